package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleSegments() []Segment {
	return []Segment{
		{Start: 0.0, End: 2.5, Text: "Hello everyone"},
		{Start: 2.5, End: 4.5, Text: "Welcome to this video"},
		{Start: 4.5, End: 7.5, Text: "Today we learn Go"},
	}
}

func TestNew_DerivesFullText(t *testing.T) {
	tr := New("en", SourceCaptions, sampleSegments())

	assert.Equal(t, "Hello everyone Welcome to this video Today we learn Go", tr.FullText)
	assert.Equal(t, SourceCaptions, tr.SourceKind)
	assert.Empty(t, tr.Warnings)
}

func TestNew_EmptyLanguageDefaultsToUnknown(t *testing.T) {
	tr := New("", SourceASR, nil)
	assert.Equal(t, LanguageUnknown, tr.Language)
}

func TestJoinText_SkipsEmptySegments(t *testing.T) {
	got := JoinText([]Segment{
		{Text: "Hello"},
		{Text: "   "},
		{Text: "World"},
	})
	assert.Equal(t, "Hello World", got)
}

func TestWithSegments_RederivesFullText(t *testing.T) {
	tr := New("en", SourceASR, sampleSegments())
	translated := []Segment{
		{Start: 0.0, End: 2.5, Text: "Hola a todos"},
		{Start: 2.5, End: 4.5, Text: "Bienvenidos"},
	}

	next := tr.WithSegments(translated, "es")

	assert.Equal(t, "Hola a todos Bienvenidos", next.FullText)
	assert.Equal(t, "es", next.Language)
	// original untouched
	assert.Equal(t, "en", tr.Language)
	assert.Len(t, tr.Segments, 3)
}

func TestWithWarnings_DoesNotMutateOriginal(t *testing.T) {
	tr := New("en", SourceCaptions, nil)
	next := tr.WithWarnings("one", "two")

	assert.Empty(t, tr.Warnings)
	assert.Equal(t, []string{"one", "two"}, next.Warnings)
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 7.5, Duration(sampleSegments()))
	assert.Equal(t, 0.0, Duration(nil))
}

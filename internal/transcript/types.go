package transcript

import "strings"

// SourceKind records which path produced a transcript.
type SourceKind string

const (
	SourceCaptions SourceKind = "captions"
	SourceASR      SourceKind = "asr"
)

// LanguageUnknown is used when neither the caption track nor the ASR model
// reported a language.
const LanguageUnknown = "unknown"

// Segment is a time-aligned portion of a transcript. Start and End are
// seconds from the beginning of the media.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Transcript is the canonical transcription result. FullText is always
// derived from Segments; treat values as immutable once built.
type Transcript struct {
	Language   string     `json:"language"`
	SourceKind SourceKind `json:"source"`
	Segments   []Segment  `json:"segments"`
	FullText   string     `json:"full_text"`
	Warnings   []string   `json:"warnings"`
}

// New builds a Transcript and derives FullText from the segments.
func New(language string, kind SourceKind, segments []Segment, warnings ...string) Transcript {
	if language == "" {
		language = LanguageUnknown
	}
	if warnings == nil {
		warnings = []string{}
	}
	return Transcript{
		Language:   language,
		SourceKind: kind,
		Segments:   segments,
		FullText:   JoinText(segments),
		Warnings:   warnings,
	}
}

// WithWarnings returns a copy with extra warnings appended.
func (t Transcript) WithWarnings(warnings ...string) Transcript {
	next := t
	next.Warnings = append(append([]string{}, t.Warnings...), warnings...)
	return next
}

// WithSegments returns a copy with the segments replaced and FullText
// re-derived. The language is updated when a non-empty code is given.
func (t Transcript) WithSegments(segments []Segment, language string) Transcript {
	next := t
	next.Segments = segments
	next.FullText = JoinText(segments)
	if language != "" {
		next.Language = language
	}
	return next
}

// JoinText joins segment texts with single spaces, skipping empty texts.
func JoinText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}

// Duration returns the end time of the last segment.
func Duration(segments []Segment) float64 {
	if len(segments) == 0 {
		return 0
	}
	return segments[len(segments)-1].End
}

// Package translate defines the best-effort translation capability applied
// to finished transcripts. Translation replaces segment text and preserves
// segment timing.
package translate

import (
	"context"
	"errors"

	"github.com/openscribe/transcriber/internal/transcript"
)

// ErrUnsupportedLanguagePair signals the backend cannot translate between
// the detected and requested languages. Callers degrade to a warning.
var ErrUnsupportedLanguagePair = errors.New("unsupported language pair")

// Translator translates segment texts into the target language. The
// returned slice has the same length and timings as the input.
type Translator interface {
	Translate(ctx context.Context, segments []transcript.Segment, targetLanguage string) ([]transcript.Segment, error)
}

// Package asr defines the speech-recognition capability and its whisper.cpp
// adapter. The engine treats the model itself as opaque: audio in, timed
// segments out.
package asr

import (
	"context"
	"errors"

	"github.com/openscribe/transcriber/internal/transcript"
)

// ErrModelUnavailable signals the recognition backend cannot serve right
// now (missing model file, binary not installed, backend overloaded).
// Transient: callers may retry.
var ErrModelUnavailable = errors.New("asr model unavailable")

// Request asks for a transcription of a local audio artifact.
type Request struct {
	// AudioPath is the decoded audio artifact to transcribe.
	AudioPath string
	// LanguageHint pins the source language; empty lets the model detect.
	LanguageHint string
	// Diarise asks for speaker labels when the backend supports them.
	Diarise bool
}

// Result is the recognition output.
type Result struct {
	// DetectedLanguage is the model's language report (ISO 639-1).
	DetectedLanguage string
	Segments         []transcript.Segment
	// Diarised reports whether speaker labels were actually produced.
	Diarised bool
}

// Provider is the interface recognition backends implement.
type Provider interface {
	Transcribe(ctx context.Context, req Request) (Result, error)
}

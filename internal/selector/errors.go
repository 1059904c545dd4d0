package selector

import (
	"context"
	"errors"
	"fmt"

	"github.com/openscribe/transcriber/internal/asr"
	"github.com/openscribe/transcriber/internal/media"
	"github.com/openscribe/transcriber/internal/translate"
)

type ErrorKind int

const (
	KindMediaUnavailable ErrorKind = iota
	KindPlatformRestricted
	KindTimeout
	KindModelUnavailable
	KindUnsupportedLanguagePair
	KindUnsupportedFormat
	KindJobNotFound
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindMediaUnavailable:
		return "MEDIA_UNAVAILABLE"
	case KindPlatformRestricted:
		return "PLATFORM_RESTRICTED"
	case KindTimeout:
		return "TIMEOUT"
	case KindModelUnavailable:
		return "MODEL_UNAVAILABLE"
	case KindUnsupportedLanguagePair:
		return "UNSUPPORTED_LANGUAGE_PAIR"
	case KindUnsupportedFormat:
		return "UNSUPPORTED_FORMAT"
	case KindJobNotFound:
		return "JOB_NOT_FOUND"
	default:
		return "INTERNAL"
	}
}

// Transient reports whether a failure of this kind may be retried.
func (k ErrorKind) Transient() bool {
	return k == KindTimeout || k == KindModelUnavailable
}

// Error is the structured failure the engine reports for a request.
type Error struct {
	Kind    ErrorKind `json:"-"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Code: kind.String(), Message: message}
}

func WrapError(err error, kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Code: kind.String(), Message: message, Cause: err}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Transient() bool {
	return e.Kind.Transient()
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind ErrorKind) bool {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind == kind
	}
	return false
}

// Classify maps capability-level errors onto the engine taxonomy. Already
// classified errors pass through untouched.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var serr *Error
	if errors.As(err, &serr) {
		return serr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return WrapError(err, KindTimeout, "capability call exceeded its deadline")
	case errors.Is(err, media.ErrPlatformRestricted):
		return WrapError(err, KindPlatformRestricted, "media is restricted on its platform")
	case errors.Is(err, media.ErrMediaUnavailable):
		return WrapError(err, KindMediaUnavailable, "media cannot be fetched")
	case errors.Is(err, asr.ErrModelUnavailable):
		return WrapError(err, KindModelUnavailable, "speech recognition backend unavailable")
	case errors.Is(err, translate.ErrUnsupportedLanguagePair):
		return WrapError(err, KindUnsupportedLanguagePair, "translation does not support this language pair")
	default:
		return WrapError(err, KindInternal, "transcription failed")
	}
}

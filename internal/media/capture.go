package media

import (
	"context"
	"errors"
	"strings"

	"github.com/openscribe/transcriber/internal/transcript"
)

// Capture failure modes. Adapters return these (wrapped) so callers can
// classify without knowing the backing tool.
var (
	// ErrMediaUnavailable: the source cannot be fetched at all (deleted,
	// private, malformed reference). Terminal.
	ErrMediaUnavailable = errors.New("media unavailable")
	// ErrPlatformRestricted: geoblocked, age-gated or otherwise walled off.
	// Terminal.
	ErrPlatformRestricted = errors.New("platform restricted")
	// ErrNoCaptions: the video has no usable caption track. Callers fall
	// back to ASR.
	ErrNoCaptions = errors.New("no usable caption track")
)

// CaptionTrack describes one caption track a platform offers for a video.
type CaptionTrack struct {
	Language       string `json:"language"`
	AutoGenerated  bool   `json:"auto_generated"`
	AutoTranslated bool   `json:"auto_translated"`
}

// Probe is the cheap metadata result for a media reference. Duration is 0
// when the platform did not report one; SourceLanguage is empty when the
// platform did not report the spoken language.
type Probe struct {
	Duration       float64        `json:"duration"`
	SourceLanguage string         `json:"source_language,omitempty"`
	CaptionTracks  []CaptionTrack `json:"caption_tracks"`
	Platform       Platform       `json:"platform"`
}

// Track returns the caption track for a language, preferring manual over
// auto-generated over auto-translated tracks.
func (p Probe) Track(language string) (CaptionTrack, bool) {
	var found CaptionTrack
	var ok bool
	for _, track := range p.CaptionTracks {
		if track.Language != language {
			continue
		}
		if !ok || trackRank(track) > trackRank(found) {
			found, ok = track, true
		}
	}
	return found, ok
}

func trackRank(t CaptionTrack) int {
	switch {
	case t.AutoTranslated:
		return 0
	case t.AutoGenerated:
		return 1
	default:
		return 2
	}
}

// NormalizeLang lowercases a language code and strips any region subtag
// ("en-US" and "en" compare equal).
func NormalizeLang(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if idx := strings.IndexByte(code, '-'); idx > 0 {
		code = code[:idx]
	}
	return code
}

// Capturer is the capture capability: metadata probing, caption download
// and audio extraction. Implementations must honor ctx deadlines.
type Capturer interface {
	// Probe resolves duration and available caption tracks without
	// downloading media bytes.
	Probe(ctx context.Context, ref Ref) (Probe, error)
	// FetchCaptions downloads the caption track for the language and
	// returns its cues as segments.
	FetchCaptions(ctx context.Context, ref Ref, language string) ([]transcript.Segment, error)
	// FetchAudio materializes a local audio artifact and returns its path.
	FetchAudio(ctx context.Context, ref Ref) (string, error)
}

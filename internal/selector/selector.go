// Package selector decides, per request, whether a transcript comes from
// existing platform captions or from speech recognition over decoded audio,
// and orchestrates the fallback chain between the two.
package selector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/openscribe/transcriber/internal/asr"
	"github.com/openscribe/transcriber/internal/media"
	"github.com/openscribe/transcriber/internal/transcript"
	"github.com/openscribe/transcriber/internal/translate"
	"github.com/openscribe/transcriber/pkg/log"
)

// Request is the immutable transcription request the engine evaluates.
type Request struct {
	Media       media.Ref         `json:"media"`
	TranslateTo string            `json:"translate_to,omitempty"`
	Diarise     bool              `json:"diarise,omitempty"`
	Format      transcript.Format `json:"format"`
}

// Selector evaluates the strategy decision tree once per request.
type Selector struct {
	capture     media.Capturer
	recognizer  asr.Provider
	translator  translate.Translator // nil disables post-translation
	callTimeout time.Duration
}

func New(capture media.Capturer, recognizer asr.Provider, translator translate.Translator, callTimeout time.Duration) *Selector {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Minute
	}
	return &Selector{
		capture:     capture,
		recognizer:  recognizer,
		translator:  translator,
		callTimeout: callTimeout,
	}
}

// Transcribe runs the decision tree: captions fast path for YouTube media
// with a usable track, speech recognition otherwise. Degraded conditions
// become transcript warnings; impossible requests become errors.
func (s *Selector) Transcribe(ctx context.Context, req Request) (transcript.Transcript, error) {
	if req.Media.Platform() != media.PlatformYouTube {
		return s.transcribeASR(ctx, req, nil)
	}

	probe, err := s.probe(ctx, req.Media)
	if err != nil {
		return transcript.Transcript{}, Classify(err)
	}

	choice := chooseTrack(probe, media.NormalizeLang(req.TranslateTo))
	if choice.useASR {
		return s.transcribeASR(ctx, req, choice.warnings)
	}

	result, err := s.transcribeCaptions(ctx, req, probe, choice)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, media.ErrNoCaptions) {
		// probe promised a track the platform would not serve
		warnings := append(choice.warnings,
			fmt.Sprintf("caption track %q was unavailable; fell back to speech recognition", choice.track.Language))
		return s.transcribeASR(ctx, req, warnings)
	}
	return transcript.Transcript{}, Classify(err)
}

// ServesCaptions reports whether the probed media can satisfy a request
// for the given target language on the captions path, without a speech
// recognition run. Dispatch uses it to decide when caption tracks justify
// skipping the duration gate.
func ServesCaptions(probe media.Probe, target string) bool {
	return !chooseTrack(probe, media.NormalizeLang(target)).useASR
}

// trackChoice is the evaluated captions-vs-ASR branch for one request.
type trackChoice struct {
	useASR    bool
	track     media.CaptionTrack
	translate bool // capability translation still needed after captions
	warnings  []string
}

// chooseTrack picks a caption track per the fast-path rules:
//   - no target language: any track, best ranked;
//   - target language: a target-language track (platform-translated is
//     acceptable, with a warning), else a source-language track followed by
//     capability translation, else ASR;
//   - a track only in a third language falls back to ASR with a warning.
func chooseTrack(probe media.Probe, target string) trackChoice {
	if len(probe.CaptionTracks) == 0 {
		return trackChoice{useASR: true}
	}

	if target == "" {
		track := bestTrack(probe)
		return trackChoice{track: track}
	}

	if track, ok := probe.Track(target); ok {
		choice := trackChoice{track: track}
		if track.AutoTranslated {
			choice.warnings = append(choice.warnings,
				fmt.Sprintf("used platform-translated caption track for %q", target))
		}
		return choice
	}

	if probe.SourceLanguage != "" {
		if track, ok := probe.Track(probe.SourceLanguage); ok {
			return trackChoice{track: track, translate: true}
		}
	}

	return trackChoice{
		useASR: true,
		warnings: []string{fmt.Sprintf(
			"captions exist only in %s, neither source nor requested language; fell back to speech recognition",
			strings.Join(trackLanguages(probe), ", "))},
	}
}

func bestTrack(probe media.Probe) media.CaptionTrack {
	// stable order so repeated requests pick the same track
	langs := trackLanguages(probe)
	if probe.SourceLanguage != "" {
		if track, ok := probe.Track(probe.SourceLanguage); ok && !track.AutoTranslated {
			return track
		}
	}
	best, _ := probe.Track(langs[0])
	for _, lang := range langs[1:] {
		track, _ := probe.Track(lang)
		if rankAbove(track, best) {
			best = track
		}
	}
	return best
}

func rankAbove(a, b media.CaptionTrack) bool {
	rank := func(t media.CaptionTrack) int {
		switch {
		case t.AutoTranslated:
			return 0
		case t.AutoGenerated:
			return 1
		default:
			return 2
		}
	}
	return rank(a) > rank(b)
}

func trackLanguages(probe media.Probe) []string {
	seen := make(map[string]bool)
	langs := make([]string, 0, len(probe.CaptionTracks))
	for _, track := range probe.CaptionTracks {
		if !seen[track.Language] {
			seen[track.Language] = true
			langs = append(langs, track.Language)
		}
	}
	sort.Strings(langs)
	return langs
}

func (s *Selector) transcribeCaptions(ctx context.Context, req Request, probe media.Probe, choice trackChoice) (transcript.Transcript, error) {
	segments, err := s.fetchCaptions(ctx, req.Media, choice.track.Language)
	if err != nil {
		return transcript.Transcript{}, err
	}

	language := choice.track.Language
	if language == "" || language == "und" {
		language = media.SniffLanguage(segments)
	}

	warnings := choice.warnings
	if req.Diarise {
		warnings = append(warnings, "diarization requires the speech recognition path; caption tracks carry no speaker information")
	}

	result := transcript.New(language, transcript.SourceCaptions, segments, warnings...)
	if choice.translate {
		result = s.applyTranslation(ctx, result, req.TranslateTo)
	}
	log.Debug("Captions fast path served %s in %q with %d segments", req.Media.Key(), result.Language, len(result.Segments))
	return result, nil
}

func (s *Selector) transcribeASR(ctx context.Context, req Request, warnings []string) (transcript.Transcript, error) {
	audioPath, err := s.fetchAudio(ctx, req.Media)
	if err != nil {
		return transcript.Transcript{}, Classify(err)
	}
	if audioPath != req.Media.UploadPath {
		defer func() {
			if removeErr := os.Remove(audioPath); removeErr != nil {
				log.Warn("Failed to remove audio artifact %s: %v", audioPath, removeErr)
			}
		}()
	}

	recognized, err := s.recognize(ctx, asr.Request{
		AudioPath: audioPath,
		Diarise:   req.Diarise,
	})
	if err != nil {
		return transcript.Transcript{}, Classify(err)
	}

	if req.Diarise && !recognized.Diarised {
		warnings = append(warnings, "diarization requested but the recognition backend produced no speaker labels")
	}

	language := media.NormalizeLang(recognized.DetectedLanguage)
	if language == "" {
		language = media.SniffLanguage(recognized.Segments)
	}

	result := transcript.New(language, transcript.SourceASR, recognized.Segments, warnings...)
	if target := media.NormalizeLang(req.TranslateTo); target != "" && target != result.Language {
		result = s.applyTranslation(ctx, result, req.TranslateTo)
	}
	log.Debug("ASR path served %s in %q with %d segments", req.Media.Key(), result.Language, len(result.Segments))
	return result, nil
}

// applyTranslation is best-effort: any failure degrades to a warning so the
// request still completes with the untranslated transcript.
func (s *Selector) applyTranslation(ctx context.Context, t transcript.Transcript, target string) transcript.Transcript {
	if s.translator == nil {
		return t.WithWarnings(fmt.Sprintf(
			"translation to %q requested but no translation backend is configured", target))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	translated, err := s.translator.Translate(callCtx, t.Segments, target)
	if err != nil {
		log.Warn("Translation to %q failed: %v", target, err)
		return t.WithWarnings(fmt.Sprintf("translation to %q failed: %v", target, err))
	}
	return t.WithSegments(translated, media.NormalizeLang(target))
}

func (s *Selector) probe(ctx context.Context, ref media.Ref) (media.Probe, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.capture.Probe(callCtx, ref)
}

func (s *Selector) fetchCaptions(ctx context.Context, ref media.Ref, language string) ([]transcript.Segment, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.capture.FetchCaptions(callCtx, ref, language)
}

func (s *Selector) fetchAudio(ctx context.Context, ref media.Ref) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.capture.FetchAudio(callCtx, ref)
}

func (s *Selector) recognize(ctx context.Context, req asr.Request) (asr.Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.recognizer.Transcribe(callCtx, req)
}

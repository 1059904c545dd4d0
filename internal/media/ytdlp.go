package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/openscribe/transcriber/internal/transcript"
	"github.com/openscribe/transcriber/pkg/log"
)

// YtDlp is the production Capturer. URLs go through yt-dlp, local uploads
// through ffprobe. Audio artifacts land under workDir; callers own their
// removal.
type YtDlp struct {
	bin        string
	ffprobeBin string
	workDir    string
}

func NewYtDlp(bin, ffprobeBin, workDir string) *YtDlp {
	return &YtDlp{
		bin:        bin,
		ffprobeBin: ffprobeBin,
		workDir:    workDir,
	}
}

func (y *YtDlp) Probe(ctx context.Context, ref Ref) (Probe, error) {
	if ref.UploadPath != "" {
		return y.probeUpload(ctx, ref.UploadPath)
	}

	out, err := y.run(ctx, "--dump-json", "--skip-download", "--no-warnings", ref.URL)
	if err != nil {
		return Probe{}, err
	}

	var meta struct {
		Duration  float64                      `json:"duration"`
		Language  string                       `json:"language"`
		Subtitles map[string][]json.RawMessage `json:"subtitles"`
		AutoCaps  map[string][]json.RawMessage `json:"automatic_captions"`
	}
	if err := json.Unmarshal(out, &meta); err != nil {
		return Probe{}, fmt.Errorf("parse yt-dlp metadata: %w", err)
	}

	probe := Probe{
		Duration:       meta.Duration,
		SourceLanguage: NormalizeLang(meta.Language),
		Platform:       ref.Platform(),
	}
	// Caption tracks only matter for the YouTube fast path.
	if probe.Platform == PlatformYouTube {
		for lang := range meta.Subtitles {
			probe.CaptionTracks = append(probe.CaptionTracks, CaptionTrack{Language: NormalizeLang(lang)})
		}
		for lang := range meta.AutoCaps {
			track := CaptionTrack{Language: NormalizeLang(lang), AutoGenerated: true}
			if meta.Language != "" && NormalizeLang(lang) != NormalizeLang(meta.Language) {
				track.AutoTranslated = true
			}
			probe.CaptionTracks = append(probe.CaptionTracks, track)
		}
	}
	return probe, nil
}

func (y *YtDlp) probeUpload(ctx context.Context, path string) (Probe, error) {
	if _, err := os.Stat(path); err != nil {
		return Probe{}, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}

	cmdPath, err := exec.LookPath(y.ffprobeBin)
	if err != nil {
		return Probe{}, err
	}
	cmd := exec.CommandContext(ctx, cmdPath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		log.Warn("ffprobe failed for %s: %v", path, err)
		// duration stays unknown; dispatch fails safe to async
		return Probe{Platform: PlatformUpload}, nil
	}

	var probeResult struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probeResult); err != nil {
		return Probe{Platform: PlatformUpload}, nil
	}
	duration, _ := strconv.ParseFloat(probeResult.Format.Duration, 64)
	return Probe{Duration: duration, Platform: PlatformUpload}, nil
}

func (y *YtDlp) FetchCaptions(ctx context.Context, ref Ref, language string) ([]transcript.Segment, error) {
	if ref.UploadPath != "" {
		return nil, ErrNoCaptions
	}

	dir, err := os.MkdirTemp(y.workDir, "captions-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	_, err = y.run(ctx,
		"--skip-download",
		"--write-subs",
		"--write-auto-subs",
		"--sub-langs", language,
		"--sub-format", "vtt",
		"--no-warnings",
		"-o", filepath.Join(dir, "track"),
		ref.URL,
	)
	if err != nil {
		return nil, err
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*.vtt"))
	if len(matches) == 0 {
		return nil, ErrNoCaptions
	}

	f, err := os.Open(matches[0])
	if err != nil {
		return nil, err
	}
	defer f.Close()

	segments, err := ParseCues(f)
	if err != nil {
		return nil, fmt.Errorf("parse caption track %s: %w", language, err)
	}
	if len(segments) == 0 {
		return nil, ErrNoCaptions
	}
	return segments, nil
}

func (y *YtDlp) FetchAudio(ctx context.Context, ref Ref) (string, error) {
	if ref.UploadPath != "" {
		return ref.UploadPath, nil
	}

	out := filepath.Join(y.workDir, fmt.Sprintf("audio-%s.wav", uuid.NewString()))
	_, err := y.run(ctx,
		"-x",
		"--audio-format", "wav",
		"--no-warnings",
		"-o", out,
		ref.URL,
	)
	if err != nil {
		return "", err
	}
	if _, statErr := os.Stat(out); statErr != nil {
		return "", fmt.Errorf("%w: audio artifact missing after download", ErrMediaUnavailable)
	}
	return out, nil
}

func (y *YtDlp) run(ctx context.Context, args ...string) ([]byte, error) {
	cmdPath, err := exec.LookPath(y.bin)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, cmdPath, args...)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		stderr := ""
		if errors.As(err, &exitErr) {
			stderr = string(exitErr.Stderr)
		}
		return nil, classifyRunError(stderr, err)
	}
	return out, nil
}

// classifyRunError maps yt-dlp stderr output onto the capture error kinds.
func classifyRunError(stderr string, cause error) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "not available in your country"),
		strings.Contains(lower, "geo restriction"),
		strings.Contains(lower, "confirm your age"),
		strings.Contains(lower, "age-restricted"):
		return fmt.Errorf("%w: %s", ErrPlatformRestricted, firstLine(stderr))
	case strings.Contains(lower, "private video"),
		strings.Contains(lower, "video unavailable"),
		strings.Contains(lower, "has been removed"),
		strings.Contains(lower, "does not exist"),
		strings.Contains(lower, "unsupported url"),
		strings.Contains(lower, "unable to download"):
		return fmt.Errorf("%w: %s", ErrMediaUnavailable, firstLine(stderr))
	default:
		return fmt.Errorf("%w: %v", ErrMediaUnavailable, cause)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return s
}

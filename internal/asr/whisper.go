package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/openscribe/transcriber/internal/transcript"
)

// Whisper runs a whisper.cpp binary and parses its JSON output.
type Whisper struct {
	bin   string
	model string
}

func NewWhisper(binPath, modelPath string) *Whisper {
	return &Whisper{bin: binPath, model: modelPath}
}

func (w *Whisper) Transcribe(ctx context.Context, req Request) (Result, error) {
	if w.model == "" {
		return Result{}, fmt.Errorf("%w: no model configured", ErrModelUnavailable)
	}
	if _, err := os.Stat(w.model); err != nil {
		return Result{}, fmt.Errorf("%w: model file: %v", ErrModelUnavailable, err)
	}
	binPath, err := exec.LookPath(w.bin)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	outDir, err := os.MkdirTemp("", "whisper-")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(outDir)
	outPrefix := filepath.Join(outDir, "out")

	args := []string{
		"-m", w.model,
		"-f", req.AudioPath,
		"-oj",
		"-of", outPrefix,
	}
	if req.LanguageHint != "" {
		args = append(args, "-l", req.LanguageHint)
	} else {
		args = append(args, "-l", "auto")
	}
	if req.Diarise {
		args = append(args, "-di")
	}

	cmd := exec.CommandContext(ctx, binPath, args...)
	if combined, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("whisper failed: %w\n%s", err, string(combined))
	}

	raw, err := os.ReadFile(outPrefix + ".json")
	if err != nil {
		return Result{}, err
	}
	return parseWhisperOutput(raw, req.Diarise)
}

// whisperOutput mirrors whisper.cpp's -oj JSON layout.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text    string `json:"text"`
		Speaker string `json:"speaker_turn,omitempty"`
	} `json:"transcription"`
}

func parseWhisperOutput(raw []byte, diarised bool) (Result, error) {
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("parse whisper output: %w", err)
	}

	segments := make([]transcript.Segment, 0, len(out.Transcription))
	sawSpeaker := false
	for _, entry := range out.Transcription {
		text := strings.TrimSpace(entry.Text)
		if text == "" {
			continue
		}
		seg := transcript.Segment{
			Start: float64(entry.Offsets.From) / 1000,
			End:   float64(entry.Offsets.To) / 1000,
			Text:  text,
		}
		if entry.Speaker != "" {
			seg.Speaker = entry.Speaker
			sawSpeaker = true
		}
		segments = append(segments, seg)
	}

	return Result{
		DetectedLanguage: out.Result.Language,
		Segments:         segments,
		Diarised:         diarised && sawSpeaker,
	}, nil
}

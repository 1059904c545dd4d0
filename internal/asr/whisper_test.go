package asr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleWhisperJSON = `{
  "result": {"language": "en"},
  "transcription": [
    {"offsets": {"from": 0, "to": 2500}, "text": " Hello everyone"},
    {"offsets": {"from": 2500, "to": 4500}, "text": "Welcome to this video"},
    {"offsets": {"from": 4500, "to": 4500}, "text": "   "}
  ]
}`

func TestParseWhisperOutput(t *testing.T) {
	result, err := parseWhisperOutput([]byte(sampleWhisperJSON), false)
	require.NoError(t, err)

	assert.Equal(t, "en", result.DetectedLanguage)
	require.Len(t, result.Segments, 2)
	assert.Equal(t, 0.0, result.Segments[0].Start)
	assert.Equal(t, 2.5, result.Segments[0].End)
	assert.Equal(t, "Hello everyone", result.Segments[0].Text)
	assert.False(t, result.Diarised)
}

func TestParseWhisperOutput_SpeakerTurns(t *testing.T) {
	raw := `{
	  "result": {"language": "de"},
	  "transcription": [
	    {"offsets": {"from": 0, "to": 1000}, "text": "Hallo", "speaker_turn": "SPEAKER_0"}
	  ]
	}`

	result, err := parseWhisperOutput([]byte(raw), true)
	require.NoError(t, err)
	assert.True(t, result.Diarised)
	assert.Equal(t, "SPEAKER_0", result.Segments[0].Speaker)
}

func TestParseWhisperOutput_Malformed(t *testing.T) {
	_, err := parseWhisperOutput([]byte("not json"), false)
	require.Error(t, err)
}

func TestWhisper_MissingModelIsModelUnavailable(t *testing.T) {
	w := NewWhisper("whisper-cli", "/nonexistent/model.bin")

	_, err := w.Transcribe(context.Background(), Request{AudioPath: "/tmp/a.wav"})
	require.ErrorIs(t, err, ErrModelUnavailable)
}

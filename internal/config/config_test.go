package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, 2, cfg.Workers.Count)
	assert.Equal(t, 3, cfg.Workers.RetryMaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Dispatch.InlineMaxDuration)
	assert.Equal(t, time.Hour, cfg.Workers.JobRetention)
	assert.False(t, cfg.Translate.Enabled())
}

func TestNew_EnvOverrides(t *testing.T) {
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("INLINE_MAX_DURATION", "90")
	t.Setenv("RETRY_BACKOFF_BASE", "250ms")
	t.Setenv("TRANSLATE_API_KEY", "key-123")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers.Count)
	assert.Equal(t, 90*time.Second, cfg.Dispatch.InlineMaxDuration)
	assert.Equal(t, 250*time.Millisecond, cfg.Workers.RetryBackoffBase)
	assert.True(t, cfg.Translate.Enabled())
}

func TestNew_RejectsInvalidWorkerCount(t *testing.T) {
	t.Setenv("WORKER_COUNT", "0")

	_, err := New()
	require.Error(t, err)
}

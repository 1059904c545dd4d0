package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Supports environment variables with sensible defaults.
//
// Environment Variables:
// Server Configuration:
// - HTTP_ADDR: listen address (default: :8080)
// - DATA_DIR: working directory for the job store and media artifacts (default: ./data)
// - LOG_LEVEL: debug/info/warn/error (default: info)
//
// Dispatch Configuration:
// - INLINE_MAX_DURATION: media at or below this duration is answered inline (default: 120s)
//
// Worker Configuration:
// - WORKER_COUNT: transcription worker pool size (default: 2)
// - RETRY_MAX_ATTEMPTS: attempt ceiling for transient failures (default: 3)
// - RETRY_BACKOFF_BASE: first retry delay, doubled per attempt (default: 500ms)
// - JOB_RETENTION: how long terminal jobs stay queryable (default: 1h)
// - PURGE_INTERVAL: cron sweep cadence for expired jobs (default: 10m)
// - CAPABILITY_TIMEOUT: deadline for each external capability call (default: 10m)
//
// Capture / ASR Configuration:
// - YTDLP_BIN: yt-dlp binary (default: yt-dlp)
// - FFPROBE_BIN: ffprobe binary (default: ffprobe)
// - WHISPER_BIN: whisper.cpp binary (default: whisper-cli)
// - WHISPER_MODEL: path to the whisper model file (required for the ASR path)
//
// Translation Configuration (optional; unset disables post-translation):
// - TRANSLATE_API_URL: OpenAI-compatible endpoint (default: https://openrouter.ai/api/v1)
// - TRANSLATE_API_KEY: API key
// - TRANSLATE_MODEL: model name (default: openai/gpt-4o-mini)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Workers   WorkerConfig    `json:"workers"`
	Capture   CaptureConfig   `json:"capture"`
	ASR       ASRConfig       `json:"asr"`
	Translate TranslateConfig `json:"translate"`
}

type ServerConfig struct {
	HTTPAddr string `json:"http_addr"`
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
}

type DispatchConfig struct {
	InlineMaxDuration time.Duration `json:"inline_max_duration"`
}

type WorkerConfig struct {
	Count             int           `json:"count"`
	RetryMaxAttempts  int           `json:"retry_max_attempts"`
	RetryBackoffBase  time.Duration `json:"retry_backoff_base"`
	JobRetention      time.Duration `json:"job_retention"`
	PurgeInterval     time.Duration `json:"purge_interval"`
	CapabilityTimeout time.Duration `json:"capability_timeout"`
}

type CaptureConfig struct {
	YtDlpBin   string `json:"ytdlp_bin"`
	FfprobeBin string `json:"ffprobe_bin"`
}

type ASRConfig struct {
	WhisperBin   string `json:"whisper_bin"`
	WhisperModel string `json:"whisper_model"`
}

// TranslateConfig configures the LLM translation client. An empty APIKey
// disables translation; translation requests then degrade to a warning.
type TranslateConfig struct {
	APIURL string `json:"api_url"`
	APIKey string `json:"api_key"`
	Model  string `json:"model"`
}

func (c TranslateConfig) Enabled() bool {
	return c.APIKey != ""
}

// New creates a Config from environment variables.
func New() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			HTTPAddr: getEnvString("HTTP_ADDR", ":8080"),
			DataDir:  getEnvString("DATA_DIR", "./data"),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
		Dispatch: DispatchConfig{
			InlineMaxDuration: getEnvDuration("INLINE_MAX_DURATION", 2*time.Minute),
		},
		Workers: WorkerConfig{
			Count:             getEnvInt("WORKER_COUNT", 2),
			RetryMaxAttempts:  getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			RetryBackoffBase:  getEnvDuration("RETRY_BACKOFF_BASE", 500*time.Millisecond),
			JobRetention:      getEnvDuration("JOB_RETENTION", time.Hour),
			PurgeInterval:     getEnvDuration("PURGE_INTERVAL", 10*time.Minute),
			CapabilityTimeout: getEnvDuration("CAPABILITY_TIMEOUT", 10*time.Minute),
		},
		Capture: CaptureConfig{
			YtDlpBin:   getEnvString("YTDLP_BIN", "yt-dlp"),
			FfprobeBin: getEnvString("FFPROBE_BIN", "ffprobe"),
		},
		ASR: ASRConfig{
			WhisperBin:   getEnvString("WHISPER_BIN", "whisper-cli"),
			WhisperModel: getEnvString("WHISPER_MODEL", ""),
		},
		Translate: TranslateConfig{
			APIURL: getEnvString("TRANSLATE_API_URL", "https://openrouter.ai/api/v1"),
			APIKey: getEnvString("TRANSLATE_API_KEY", ""),
			Model:  getEnvString("TRANSLATE_MODEL", "openai/gpt-4o-mini"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Workers.Count <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive, got %d", c.Workers.Count)
	}
	if c.Workers.RetryMaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive, got %d", c.Workers.RetryMaxAttempts)
	}
	if c.Workers.JobRetention <= 0 {
		return fmt.Errorf("JOB_RETENTION must be positive")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment variables with default.
// Accepts Go duration strings ("90s", "5m") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

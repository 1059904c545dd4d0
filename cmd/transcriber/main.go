package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/openscribe/transcriber/internal/asr"
	"github.com/openscribe/transcriber/internal/config"
	"github.com/openscribe/transcriber/internal/dispatch"
	"github.com/openscribe/transcriber/internal/httpapi"
	"github.com/openscribe/transcriber/internal/jobs"
	"github.com/openscribe/transcriber/internal/media"
	"github.com/openscribe/transcriber/internal/persistence"
	"github.com/openscribe/transcriber/internal/selector"
	"github.com/openscribe/transcriber/internal/translate"
	"github.com/openscribe/transcriber/pkg/log"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log.Init(log.ParseLevel(cfg.Server.LogLevel))

	if err := run(cfg); err != nil {
		log.Fatal("%v", err)
	}
}

func run(cfg *config.Config) error {
	store, err := persistence.NewSQLiteStore(filepath.Join(cfg.Server.DataDir, "transcriber.db"))
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	workDir := filepath.Join(cfg.Server.DataDir, "work")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}

	capture := media.NewYtDlp(cfg.Capture.YtDlpBin, cfg.Capture.FfprobeBin, workDir)
	recognizer := asr.NewWhisper(cfg.ASR.WhisperBin, cfg.ASR.WhisperModel)

	var translator translate.Translator
	if cfg.Translate.Enabled() {
		translator = translate.NewClient(cfg.Translate.APIURL, cfg.Translate.APIKey, cfg.Translate.Model)
		log.Info("Translation enabled via %s (%s)", cfg.Translate.APIURL, cfg.Translate.Model)
	} else {
		log.Info("Translation disabled: no API key configured")
	}

	sel := selector.New(capture, recognizer, translator, cfg.Workers.CapabilityTimeout)

	queue := jobs.NewQueue(jobs.Options{
		WorkerCount: cfg.Workers.Count,
		MaxAttempts: cfg.Workers.RetryMaxAttempts,
		BackoffBase: cfg.Workers.RetryBackoffBase,
		Retention:   cfg.Workers.JobRetention,
	}, store)
	queue.Start(sel.Transcribe)
	defer queue.Stop()

	sweeper := cron.New()
	sweepSpec := fmt.Sprintf("@every %s", cfg.Workers.PurgeInterval)
	if _, err := sweeper.AddFunc(sweepSpec, func() {
		if n := queue.PurgeExpired(time.Now()); n > 0 {
			log.Info("Purged %d expired jobs", n)
		}
		if n, err := store.DeleteExpiredProbes(context.Background(), time.Now()); err != nil {
			log.Warn("Probe cache sweep failed: %v", err)
		} else if n > 0 {
			log.Debug("Purged %d expired probe cache entries", n)
		}
	}); err != nil {
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	policy := dispatch.NewPolicy(capture, store, cfg.Dispatch.InlineMaxDuration)
	server := httpapi.NewServer(sel, queue, policy,
		httpapi.WithUploadDir(filepath.Join(cfg.Server.DataDir, "uploads")))

	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening on %s", cfg.Server.HTTPAddr)
		errCh <- server.ListenAndServe(cfg.Server.HTTPAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case sig := <-sigCh:
		log.Info("Received %s, shutting down", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP shutdown: %v", err)
		}
	}
	return nil
}

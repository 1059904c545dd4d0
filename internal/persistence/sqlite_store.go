// Package persistence keeps job state and probe metadata in a local sqlite
// database so restarts lose neither queued work nor recent probe results.
package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openscribe/transcriber/internal/jobs"
	"github.com/openscribe/transcriber/internal/media"
	"github.com/openscribe/transcriber/internal/selector"
	"github.com/openscribe/transcriber/internal/transcript"
)

const probeCacheDefaultTTL = 10 * time.Minute

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// errorPayload keeps the numeric kind alongside the wire fields so a
// hydrated job classifies the same way it did when it failed.
type errorPayload struct {
	Kind    int    `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, status, request_json, result_json, error_json, attempts, created_at, updated_at
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		var item jobs.Job
		var status string
		var requestJSON string
		var resultJSON sql.NullString
		var errorJSON sql.NullString
		if err := rows.Scan(
			&item.ID,
			&status,
			&requestJSON,
			&resultJSON,
			&errorJSON,
			&item.Attempts,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		item.Status = jobs.Status(status)
		if err := json.Unmarshal([]byte(requestJSON), &item.Request); err != nil {
			return nil, fmt.Errorf("decode request for job %s: %w", item.ID, err)
		}
		if resultJSON.Valid && resultJSON.String != "" {
			var result transcript.Transcript
			if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
				return nil, fmt.Errorf("decode result for job %s: %w", item.ID, err)
			}
			item.Result = &result
		}
		if errorJSON.Valid && errorJSON.String != "" {
			var payload errorPayload
			if err := json.Unmarshal([]byte(errorJSON.String), &payload); err != nil {
				return nil, fmt.Errorf("decode error for job %s: %w", item.ID, err)
			}
			item.Err = &selector.Error{
				Kind:    selector.ErrorKind(payload.Kind),
				Code:    payload.Code,
				Message: payload.Message,
			}
		}
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	requestJSON, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	var resultJSON sql.NullString
	if job.Result != nil {
		raw, err := json.Marshal(job.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		resultJSON = sql.NullString{String: string(raw), Valid: true}
	}
	var errorJSON sql.NullString
	if job.Err != nil {
		raw, err := json.Marshal(errorPayload{
			Kind:    int(job.Err.Kind),
			Code:    job.Err.Code,
			Message: job.Err.Message,
		})
		if err != nil {
			return fmt.Errorf("encode error: %w", err)
		}
		errorJSON = sql.NullString{String: string(raw), Valid: true}
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, status, request_json, result_json, error_json, attempts, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			request_json=excluded.request_json,
			result_json=excluded.result_json,
			error_json=excluded.error_json,
			attempts=excluded.attempts,
			updated_at=excluded.updated_at`,
		job.ID,
		string(job.Status),
		string(requestJSON),
		resultJSON,
		errorJSON,
		job.Attempts,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

// PutProbe caches a probe result keyed by the media reference. A zero
// expiry falls back to a short default TTL.
func (s *SQLiteStore) PutProbe(ctx context.Context, mediaKey string, probe media.Probe, expiresAt time.Time) error {
	probeJSON, err := json.Marshal(probe)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if expiresAt.IsZero() {
		expiresAt = now.Add(probeCacheDefaultTTL)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO probe_cache (media_key, probe_json, expires_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(media_key) DO UPDATE SET
			probe_json=excluded.probe_json,
			expires_at=excluded.expires_at,
			updated_at=excluded.updated_at`,
		mediaKey,
		string(probeJSON),
		expiresAt.UTC(),
		now,
	)
	return err
}

// GetProbe returns a cached probe when one exists and has not expired.
func (s *SQLiteStore) GetProbe(ctx context.Context, mediaKey string, now time.Time) (media.Probe, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT probe_json FROM probe_cache WHERE media_key = ? AND expires_at > ?`,
		mediaKey,
		now.UTC(),
	)
	var probeJSON string
	if err := row.Scan(&probeJSON); err != nil {
		if err == sql.ErrNoRows {
			return media.Probe{}, false, nil
		}
		return media.Probe{}, false, err
	}
	var probe media.Probe
	if err := json.Unmarshal([]byte(probeJSON), &probe); err != nil {
		return media.Probe{}, false, err
	}
	return probe, true, nil
}

// DeleteExpiredProbes removes probe_cache rows whose expires_at is before now.
func (s *SQLiteStore) DeleteExpiredProbes(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM probe_cache WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

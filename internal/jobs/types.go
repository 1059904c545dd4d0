package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/openscribe/transcriber/internal/selector"
	"github.com/openscribe/transcriber/internal/transcript"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a job in this status will never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var (
	ErrNotFound        = errors.New("job not found")
	ErrAlreadyFinished = errors.New("job already finished")
)

// Executor runs one transcription request to completion. selector.Transcribe
// satisfies this signature.
type Executor func(ctx context.Context, req selector.Request) (transcript.Transcript, error)

// Job is one admitted transcription request and its lifecycle state.
// Snapshots returned by the queue are copies; treat them as immutable.
type Job struct {
	ID        string                 `json:"id"`
	Status    Status                 `json:"status"`
	Request   selector.Request       `json:"request"`
	Result    *transcript.Transcript `json:"result,omitempty"`
	Err       *selector.Error        `json:"error,omitempty"`
	Attempts  int                    `json:"attempts"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

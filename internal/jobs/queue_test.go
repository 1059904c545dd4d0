package jobs

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openscribe/transcriber/internal/asr"
	"github.com/openscribe/transcriber/internal/media"
	"github.com/openscribe/transcriber/internal/selector"
	"github.com/openscribe/transcriber/internal/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: make(map[string]*Job)}
}

func (m *memoryStore) LoadJobs(_ context.Context) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		ret = append(ret, cloneJob(j))
	}
	return ret, nil
}

func (m *memoryStore) UpsertJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *memoryStore) DeleteJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}

func testRequest() selector.Request {
	return selector.Request{
		Media:  media.Ref{URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		Format: transcript.FormatJSON,
	}
}

func succeedExecutor(_ context.Context, _ selector.Request) (transcript.Transcript, error) {
	return transcript.New("en", transcript.SourceCaptions, []transcript.Segment{
		{Start: 0, End: 1, Text: "done"},
	}), nil
}

func TestQueue_CompletesJob(t *testing.T) {
	q := NewQueue(Options{WorkerCount: 2}, nil)
	q.Start(succeedExecutor)
	defer q.Stop()

	job := q.Admit(testRequest())
	assert.Equal(t, StatusQueued, job.Status)

	require.Eventually(t, func() bool {
		got, ok := q.Get(job.ID)
		return ok && got.Status == StatusCompleted
	}, time.Second, 10*time.Millisecond)

	got, ok := q.Get(job.ID)
	require.True(t, ok)
	require.NotNil(t, got.Result)
	assert.Equal(t, "done", got.Result.FullText)
	assert.Equal(t, 1, got.Attempts)
	assert.Nil(t, got.Err)
}

func TestQueue_AdmitBeforeStart_RunsOnStart(t *testing.T) {
	q := NewQueue(Options{WorkerCount: 1}, nil)
	job := q.Admit(testRequest())

	q.Start(succeedExecutor)
	defer q.Stop()

	require.Eventually(t, func() bool {
		got, ok := q.Get(job.ID)
		return ok && got.Status == StatusCompleted
	}, time.Second, 10*time.Millisecond)
}

func TestQueue_CancelQueuedJob_NeverExecutes(t *testing.T) {
	var calls atomic.Int64
	q := NewQueue(Options{WorkerCount: 1}, nil)

	job := q.Admit(testRequest())
	cancelled, err := q.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	q.Start(func(ctx context.Context, req selector.Request) (transcript.Transcript, error) {
		calls.Add(1)
		return succeedExecutor(ctx, req)
	})
	defer q.Stop()

	time.Sleep(50 * time.Millisecond)
	got, ok := q.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Zero(t, calls.Load())
}

func TestQueue_CancelRunningJob_EndsCancelled(t *testing.T) {
	started := make(chan struct{})
	q := NewQueue(Options{WorkerCount: 1}, nil)
	q.Start(func(ctx context.Context, _ selector.Request) (transcript.Transcript, error) {
		close(started)
		<-ctx.Done()
		return transcript.Transcript{}, ctx.Err()
	})
	defer q.Stop()

	job := q.Admit(testRequest())
	<-started

	_, err := q.Cancel(job.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok := q.Get(job.ID)
		return ok && got.Status == StatusCancelled
	}, time.Second, 10*time.Millisecond)

	got, _ := q.Get(job.ID)
	assert.Nil(t, got.Result)
	assert.Nil(t, got.Err)
}

func TestQueue_CancelRunningJob_WinsOverLateSuccess(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	q := NewQueue(Options{WorkerCount: 1}, nil)
	// ignores its context to simulate a capability that cannot be interrupted
	q.Start(func(_ context.Context, req selector.Request) (transcript.Transcript, error) {
		close(started)
		<-release
		return succeedExecutor(context.Background(), req)
	})
	defer q.Stop()

	job := q.Admit(testRequest())
	<-started

	_, err := q.Cancel(job.ID)
	require.NoError(t, err)
	close(release)

	require.Eventually(t, func() bool {
		got, ok := q.Get(job.ID)
		return ok && got.Status == StatusCancelled
	}, time.Second, 10*time.Millisecond)
}

func TestQueue_CancelMissingJob(t *testing.T) {
	q := NewQueue(Options{WorkerCount: 1}, nil)
	_, err := q.Cancel("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueue_CancelFinishedJob(t *testing.T) {
	q := NewQueue(Options{WorkerCount: 1}, nil)
	q.Start(succeedExecutor)
	defer q.Stop()

	job := q.Admit(testRequest())
	require.Eventually(t, func() bool {
		got, ok := q.Get(job.ID)
		return ok && got.Status.Terminal()
	}, time.Second, 10*time.Millisecond)

	_, err := q.Cancel(job.ID)
	assert.ErrorIs(t, err, ErrAlreadyFinished)
}

func TestQueue_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int64
	q := NewQueue(Options{
		WorkerCount: 1,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
	}, nil)
	q.Start(func(ctx context.Context, req selector.Request) (transcript.Transcript, error) {
		if calls.Add(1) < 3 {
			return transcript.Transcript{}, asr.ErrModelUnavailable
		}
		return succeedExecutor(ctx, req)
	})
	defer q.Stop()

	job := q.Admit(testRequest())

	require.Eventually(t, func() bool {
		got, ok := q.Get(job.ID)
		return ok && got.Status == StatusCompleted
	}, time.Second, 10*time.Millisecond)

	got, _ := q.Get(job.ID)
	assert.Equal(t, 3, got.Attempts)
}

func TestQueue_TransientFailure_ExhaustsAttempts(t *testing.T) {
	q := NewQueue(Options{
		WorkerCount: 1,
		MaxAttempts: 2,
		BackoffBase: time.Millisecond,
	}, nil)
	q.Start(func(_ context.Context, _ selector.Request) (transcript.Transcript, error) {
		return transcript.Transcript{}, asr.ErrModelUnavailable
	})
	defer q.Stop()

	job := q.Admit(testRequest())

	require.Eventually(t, func() bool {
		got, ok := q.Get(job.ID)
		return ok && got.Status == StatusFailed
	}, time.Second, 10*time.Millisecond)

	got, _ := q.Get(job.ID)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.Err)
	assert.Equal(t, "MODEL_UNAVAILABLE", got.Err.Code)
}

func TestQueue_NonTransientFailure_FailsImmediately(t *testing.T) {
	var calls atomic.Int64
	q := NewQueue(Options{
		WorkerCount: 1,
		MaxAttempts: 5,
		BackoffBase: time.Millisecond,
	}, nil)
	q.Start(func(_ context.Context, _ selector.Request) (transcript.Transcript, error) {
		calls.Add(1)
		return transcript.Transcript{}, fmt.Errorf("yt-dlp: %w", media.ErrMediaUnavailable)
	})
	defer q.Stop()

	job := q.Admit(testRequest())

	require.Eventually(t, func() bool {
		got, ok := q.Get(job.ID)
		return ok && got.Status == StatusFailed
	}, time.Second, 10*time.Millisecond)

	got, _ := q.Get(job.ID)
	assert.Equal(t, 1, got.Attempts)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, "MEDIA_UNAVAILABLE", got.Err.Code)
}

func TestQueue_PurgeExpired_DropsOldTerminalJobs(t *testing.T) {
	store := newMemoryStore()
	q := NewQueue(Options{WorkerCount: 1, Retention: time.Hour}, store)
	q.Start(succeedExecutor)
	defer q.Stop()

	done := q.Admit(testRequest())
	require.Eventually(t, func() bool {
		got, ok := q.Get(done.ID)
		return ok && got.Status == StatusCompleted
	}, time.Second, 10*time.Millisecond)

	// nothing is old enough yet
	assert.Zero(t, q.PurgeExpired(time.Now()))

	future := time.Now().Add(2 * time.Hour)
	assert.Equal(t, 1, q.PurgeExpired(future))

	_, ok := q.Get(done.ID)
	assert.False(t, ok)

	store.mu.Lock()
	_, persisted := store.jobs[done.ID]
	store.mu.Unlock()
	assert.False(t, persisted)
}

func TestQueue_Get_HidesExpiredJobBeforeSweep(t *testing.T) {
	q := NewQueue(Options{WorkerCount: 1, Retention: time.Millisecond}, nil)
	q.Start(succeedExecutor)
	defer q.Stop()

	job := q.Admit(testRequest())
	require.Eventually(t, func() bool {
		_, ok := q.Get(job.ID)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestQueue_RecoversJobsFromStore(t *testing.T) {
	store := newMemoryStore()
	now := time.Now()
	store.jobs["a"] = &Job{ID: "a", Status: StatusQueued, Request: testRequest(), CreatedAt: now, UpdatedAt: now}
	store.jobs["b"] = &Job{ID: "b", Status: StatusRunning, Request: testRequest(), Attempts: 1, CreatedAt: now, UpdatedAt: now}
	store.jobs["c"] = &Job{ID: "c", Status: StatusCompleted, Request: testRequest(), CreatedAt: now, UpdatedAt: now}

	q := NewQueue(Options{WorkerCount: 1}, store)

	// interrupted jobs are requeued, not lost
	got, ok := q.Get("b")
	require.True(t, ok)
	assert.Equal(t, StatusQueued, got.Status)

	q.Start(succeedExecutor)
	defer q.Stop()

	for _, id := range []string{"a", "b"} {
		require.Eventually(t, func() bool {
			got, ok := q.Get(id)
			return ok && got.Status == StatusCompleted
		}, time.Second, 10*time.Millisecond)
	}

	got, ok = q.Get("c")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestQueue_List_OrdersByCreation(t *testing.T) {
	q := NewQueue(Options{WorkerCount: 1}, nil)
	first := q.Admit(testRequest())
	time.Sleep(2 * time.Millisecond)
	second := q.Admit(testRequest())

	listed := q.List()
	require.Len(t, listed, 2)
	assert.Equal(t, first.ID, listed[0].ID)
	assert.Equal(t, second.ID, listed[1].ID)
}

func TestQueue_Stop_ReleasesOverflowHandoffs(t *testing.T) {
	release := make(chan struct{})
	q := NewQueue(Options{WorkerCount: 1}, nil)
	q.Start(func(ctx context.Context, req selector.Request) (transcript.Transcript, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return succeedExecutor(ctx, req)
	})

	// occupy the worker, then overfill the pending channel so admissions
	// spill into handoff goroutines
	first := q.Admit(testRequest())
	require.Eventually(t, func() bool {
		got, ok := q.Get(first.ID)
		return ok && got.Status == StatusRunning
	}, time.Second, 5*time.Millisecond)

	baseline := runtime.NumGoroutine()
	for i := 0; i < cap(q.pendingIDs)+64; i++ {
		q.Admit(testRequest())
	}

	close(release)
	q.Stop()

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline+4
	}, 2*time.Second, 20*time.Millisecond, "handoff goroutines survived Stop")
}

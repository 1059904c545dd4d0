package jobs

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openscribe/transcriber/internal/selector"
	"github.com/openscribe/transcriber/internal/transcript"
	"github.com/openscribe/transcriber/pkg/log"
)

const maxBackoff = time.Minute

// Options tunes the queue. Zero values fall back to safe defaults.
type Options struct {
	WorkerCount int
	MaxAttempts int           // total executions per job, transient failures only
	BackoffBase time.Duration // first retry delay, doubled per attempt
	Retention   time.Duration // terminal jobs older than this read as not found
}

// Queue owns every admitted job: FIFO admission, a fixed worker pool,
// cooperative cancellation, transient-error retries, and retention pruning.
type Queue struct {
	opts  Options
	store Store

	mu         sync.RWMutex
	jobs       map[string]*Job
	cancels    map[string]context.CancelFunc
	cancelAsks map[string]bool
	started    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewQueue(opts Options, store Store) *Queue {
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	q := &Queue{
		opts:       opts,
		store:      store,
		jobs:       make(map[string]*Job),
		cancels:    make(map[string]context.CancelFunc),
		cancelAsks: make(map[string]bool),
		pendingIDs: make(chan string, 1024),
		stopCh:     make(chan struct{}),
	}
	q.hydrateFromStore(context.Background())
	return q
}

// Admit registers a new job and returns its snapshot. The job runs once
// Start has been called; until then it stays queued.
func (q *Queue) Admit(req selector.Request) *Job {
	now := time.Now()
	job := &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	started := q.started
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	if started {
		q.enqueuePendingID(job.ID)
	}
	return snapshot
}

// Get returns a snapshot of the job. Terminal jobs past the retention
// window read as not found even before the sweep removes them.
func (q *Queue) Get(id string) (*Job, bool) {
	now := time.Now()
	q.mu.RLock()
	job, ok := q.jobs[id]
	var snapshot *Job
	if ok && !q.expiredLocked(job, now) {
		snapshot = cloneJob(job)
	}
	q.mu.RUnlock()

	if snapshot == nil {
		return nil, false
	}
	return snapshot, true
}

// List returns snapshots of all live jobs ordered by creation time.
func (q *Queue) List() []*Job {
	now := time.Now()
	q.mu.RLock()
	ret := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		if q.expiredLocked(job, now) {
			continue
		}
		ret = append(ret, cloneJob(job))
	}
	q.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].CreatedAt.Before(ret[j].CreatedAt)
	})
	return ret
}

// Cancel stops a job. A queued job becomes cancelled immediately; a running
// job is asked to stop and finishes as cancelled once its worker notices.
func (q *Queue) Cancel(id string) (*Job, error) {
	now := time.Now()

	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || q.expiredLocked(job, now) {
		q.mu.Unlock()
		return nil, ErrNotFound
	}

	switch job.Status {
	case StatusQueued:
		job.Status = StatusCancelled
		job.UpdatedAt = now
		snapshot := cloneJob(job)
		q.mu.Unlock()
		q.persistJob(snapshot)
		return snapshot, nil
	case StatusRunning:
		q.cancelAsks[id] = true
		cancel := q.cancels[id]
		snapshot := cloneJob(job)
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return snapshot, nil
	default:
		q.mu.Unlock()
		return nil, ErrAlreadyFinished
	}
}

// Start launches the worker pool and re-enqueues jobs left queued by a
// previous run. Calling Start twice is a no-op.
func (q *Queue) Start(exec Executor) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true

	type backlogged struct {
		id        string
		createdAt time.Time
	}
	backlog := make([]backlogged, 0)
	for id, job := range q.jobs {
		if job.Status == StatusQueued {
			backlog = append(backlog, backlogged{id: id, createdAt: job.CreatedAt})
		}
	}
	q.mu.Unlock()

	sort.Slice(backlog, func(i, j int) bool {
		return backlog[i].createdAt.Before(backlog[j].createdAt)
	})
	for _, entry := range backlog {
		q.enqueuePendingID(entry.id)
	}

	for i := 0; i < q.opts.WorkerCount; i++ {
		q.wg.Add(1)
		go q.worker(exec)
	}
}

// Stop lets in-flight jobs finish and shuts the workers down.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.wg.Wait()
	})
}

// PurgeExpired removes terminal jobs older than the retention window and
// returns how many were dropped. A zero retention disables pruning.
func (q *Queue) PurgeExpired(now time.Time) int {
	if q.opts.Retention <= 0 {
		return 0
	}

	q.mu.Lock()
	expired := make([]string, 0)
	for id, job := range q.jobs {
		if q.expiredLocked(job, now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(q.jobs, id)
	}
	q.mu.Unlock()

	q.deleteJobsFromStore(expired)
	return len(expired)
}

func (q *Queue) expiredLocked(job *Job, now time.Time) bool {
	return q.opts.Retention > 0 &&
		job.Status.Terminal() &&
		now.Sub(job.UpdatedAt) > q.opts.Retention
}

func (q *Queue) worker(exec Executor) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case id := <-q.pendingIDs:
			q.process(id, exec)
		}
	}
}

func (q *Queue) process(id string, exec Executor) {
	job, jobCtx, ok := q.markRunning(id)
	if !ok {
		return
	}
	defer q.releaseCancel(id)

	var lastErr *selector.Error
	for attempt := 1; ; attempt++ {
		q.bumpAttempts(id)

		result, err := exec(jobCtx, job.Request)
		if err == nil {
			q.finalize(id, StatusCompleted, &result, nil)
			return
		}
		if jobCtx.Err() != nil {
			q.finalize(id, StatusCancelled, nil, nil)
			return
		}

		lastErr = selector.Classify(err)
		if !lastErr.Transient() || attempt >= q.opts.MaxAttempts {
			break
		}

		delay := backoffDelay(q.opts.BackoffBase, attempt)
		log.Warn("Job %s attempt %d failed (%s), retrying in %s", id, attempt, lastErr.Code, delay)
		select {
		case <-jobCtx.Done():
			q.finalize(id, StatusCancelled, nil, nil)
			return
		case <-q.stopCh:
			// left running in the store; the next boot requeues it
			return
		case <-time.After(delay):
		}
	}

	q.finalize(id, StatusFailed, nil, lastErr)
}

// backoffDelay doubles the base per attempt, caps the result, and adds up
// to 25% jitter so retries from concurrent jobs spread out.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			delay = maxBackoff
			break
		}
	}
	return delay + time.Duration(rand.Int63n(int64(delay/4+1)))
}

func (q *Queue) enqueuePendingID(id string) {
	select {
	case q.pendingIDs <- id:
	default:
		// channel full; hand off without blocking the caller. The job is
		// already persisted, so giving up on stop loses nothing.
		go func() {
			select {
			case q.pendingIDs <- id:
			case <-q.stopCh:
			}
		}()
	}
}

// markRunning claims a queued job. The returned context is cancelled when
// the job is cancelled or the claim is released.
func (q *Queue) markRunning(id string) (*Job, context.Context, bool) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.Status != StatusQueued {
		q.mu.Unlock()
		return nil, nil, false
	}
	job.Status = StatusRunning
	job.UpdatedAt = time.Now()
	jobCtx, cancel := context.WithCancel(context.Background())
	q.cancels[id] = cancel
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
	return snapshot, jobCtx, true
}

func (q *Queue) bumpAttempts(id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return
	}
	job.Attempts++
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
}

// finalize writes a terminal state exactly once. A pending cancel request
// wins over whatever the execution produced.
func (q *Queue) finalize(id string, status Status, result *transcript.Transcript, jobErr *selector.Error) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.Status != StatusRunning {
		q.mu.Unlock()
		return
	}
	if q.cancelAsks[id] {
		status = StatusCancelled
		result = nil
		jobErr = nil
	}
	delete(q.cancelAsks, id)
	job.Status = status
	job.Result = result
	job.Err = jobErr
	job.UpdatedAt = time.Now()
	snapshot := cloneJob(job)
	q.mu.Unlock()

	q.persistJob(snapshot)
}

func (q *Queue) releaseCancel(id string) {
	q.mu.Lock()
	cancel := q.cancels[id]
	delete(q.cancels, id)
	delete(q.cancelAsks, id)
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (q *Queue) hydrateFromStore(ctx context.Context) {
	if q.store == nil {
		return
	}
	loaded, err := q.store.LoadJobs(ctx)
	if err != nil {
		log.Error("Failed to load jobs from store: %v", err)
		return
	}

	now := time.Now()
	toPersist := make([]*Job, 0)
	q.mu.Lock()
	for _, raw := range loaded {
		if raw == nil || raw.ID == "" {
			continue
		}
		job := cloneJob(raw)
		if job.Status == StatusRunning {
			// the previous process died mid-job; run it again
			job.Status = StatusQueued
			job.UpdatedAt = now
			toPersist = append(toPersist, cloneJob(job))
		}
		q.jobs[job.ID] = job
	}
	q.mu.Unlock()

	for _, job := range toPersist {
		q.persistJob(job)
	}
}

func (q *Queue) persistJob(job *Job) {
	if q.store == nil || job == nil {
		return
	}
	if err := q.store.UpsertJob(context.Background(), job); err != nil {
		log.Error("Failed to persist job %s: %v", job.ID, err)
	}
}

func (q *Queue) deleteJobsFromStore(ids []string) {
	if q.store == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if err := q.store.DeleteJob(context.Background(), id); err != nil {
			log.Error("Failed to delete expired job %s from store: %v", id, err)
		}
	}
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}

// Package queue is the durable job queue the delivery pipeline runs on.
//
// A Queue enqueues jobs with a per-job attempt budget and backoff policy, runs
// them on a bounded pool of workers through a single Handler, and invokes the
// registered FailedHooks once per job that exhausts its attempts. Storage is
// pluggable through Backend (see queue/memory and queue/redis).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/id"
)

// Handler runs one attempt of a job. Returning an error fails the attempt.
type Handler func(ctx context.Context, j *Job) error

// FailedHook is invoked once when a job exhausts its attempts.
type FailedHook func(ctx context.Context, j *Job, err error) error

// Queue runs jobs from a Backend on a pool of worker goroutines.
type Queue struct {
	name           string
	backend        Backend
	handler        Handler
	failedHooks    []FailedHook
	concurrency    int
	pollInterval   time.Duration
	staleThreshold time.Duration
	now            func() time.Time
	logger         *slog.Logger

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// Option configures a Queue.
type Option func(*Queue)

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) Option {
	return func(q *Queue) { q.concurrency = n }
}

// WithPollInterval sets how often idle workers poll for due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) { q.pollInterval = d }
}

// WithStaleJobThreshold enables the reaper: active jobs whose claim has not
// been refreshed for d are returned to the queue. Running jobs refresh their
// claim every d/3. Zero disables it.
func WithStaleJobThreshold(d time.Duration) Option {
	return func(q *Queue) { q.staleThreshold = d }
}

// WithLogger sets the queue logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClock overrides the time source used for scheduling.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a queue named name on top of backend.
func New(name string, backend Backend, opts ...Option) *Queue {
	q := &Queue{
		name:         name,
		backend:      backend,
		concurrency:  3,
		pollInterval: 500 * time.Millisecond,
		now:          time.Now,
		logger:       slog.Default(),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.concurrency < 1 {
		q.concurrency = 1
	}
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Process registers the job handler. It must be called before Start.
func (q *Queue) Process(h Handler) {
	q.mu.Lock()
	q.handler = h
	q.mu.Unlock()
}

// OnFailed registers a hook invoked once per job that exhausts its attempts.
func (q *Queue) OnFailed(h FailedHook) {
	q.mu.Lock()
	q.failedHooks = append(q.failedHooks, h)
	q.mu.Unlock()
}

// Enqueue adds a job carrying data. Byte slices and json.RawMessage are
// stored as is; any other value is JSON encoded.
func (q *Queue) Enqueue(ctx context.Context, data any, opts Options) (*Job, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, fmt.Errorf("queue: encode job data: %w", err)
	}

	now := q.now().UTC()
	jobID := opts.JobID
	if jobID.IsNil() {
		jobID = id.NewJobID()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	j := &Job{
		ID:          jobID,
		Queue:       q.name,
		Data:        raw,
		State:       StateWaiting,
		MaxAttempts: maxAttempts,
		Backoff:     opts.Backoff,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.Delay > 0 {
		j.State = StateDelayed
		j.RunAt = now.Add(opts.Delay)
	}

	if err := q.backend.Push(ctx, j); err != nil {
		return nil, fmt.Errorf("queue: push job: %w", err)
	}

	q.logger.DebugContext(ctx, "job enqueued",
		"queue", q.name,
		"job_id", j.ID.String(),
		"max_attempts", j.MaxAttempts,
	)
	return j, nil
}

// Get returns a job by ID.
func (q *Queue) Get(ctx context.Context, jobID id.ID) (*Job, error) {
	return q.backend.Get(ctx, jobID)
}

// Depth returns the number of jobs waiting to run.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.backend.Depth(ctx, q.name)
}

// Start launches the worker goroutines. It returns immediately.
func (q *Queue) Start(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return nil
	}
	if q.handler == nil {
		return hookrelay.ErrNoHandler
	}
	q.running = true
	q.stopCh = make(chan struct{})

	q.logger.Info("queue workers starting",
		"queue", q.name,
		"concurrency", q.concurrency,
	)

	for range q.concurrency {
		q.wg.Add(1)
		go q.dequeueLoop()
	}

	if q.staleThreshold > 0 {
		q.wg.Add(1)
		go q.reaperLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for in-flight jobs. When ctx
// expires first, in-flight jobs are cancelled.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.mu.Unlock()

	q.logger.Info("queue workers stopping", "queue", q.name)
	close(q.stopCh)

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("queue workers stopped gracefully", "queue", q.name)
		return nil
	case <-ctx.Done():
		q.logger.Warn("queue shutdown timed out, cancelling active jobs", "queue", q.name)
		q.cancelActiveJobs()
		<-done
		return ctx.Err()
	}
}

// ProcessNext claims one due job and runs it in the calling goroutine.
// It reports whether a job was run.
func (q *Queue) ProcessNext(ctx context.Context) (bool, error) {
	q.mu.Lock()
	handler := q.handler
	q.mu.Unlock()
	if handler == nil {
		return false, hookrelay.ErrNoHandler
	}

	j, err := q.backend.Pop(ctx, q.name, q.now().UTC())
	if err != nil {
		return false, fmt.Errorf("queue: pop: %w", err)
	}
	if j == nil {
		return false, nil
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	q.trackJob(j.ID.String(), cancel)
	defer q.untrackJob(j.ID.String())

	q.execute(jobCtx, handler, j)
	return true, nil
}

func (q *Queue) dequeueLoop() {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		ran, err := q.ProcessNext(context.Background())
		if err != nil {
			q.logger.Error("dequeue error", "queue", q.name, "error", err)
			q.sleep()
			continue
		}
		if !ran {
			q.sleep()
		}
	}
}

func (q *Queue) reaperLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.staleThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			cutoff := q.now().UTC().Add(-q.staleThreshold)
			n, err := q.backend.Requeue(context.Background(), q.name, cutoff)
			if err != nil {
				q.logger.Error("reap stale jobs error", "queue", q.name, "error", err)
				continue
			}
			if n > 0 {
				q.logger.Warn("requeued stale jobs", "queue", q.name, "count", n)
			}
		}
	}
}

// execute runs the handler once and moves the job to its next state.
func (q *Queue) execute(ctx context.Context, handler Handler, j *Job) {
	stopHeartbeat := q.heartbeat(j)
	handlerErr := q.invoke(ctx, handler, j)
	stopHeartbeat()

	// Bookkeeping must survive a cancelled job context.
	ctx = context.WithoutCancel(ctx)
	now := q.now().UTC()
	j.UpdatedAt = now

	if handlerErr == nil {
		j.State = StateCompleted
		j.LastError = ""
		j.FinishedAt = &now
		if err := q.backend.Update(ctx, j); err != nil {
			q.logger.ErrorContext(ctx, "failed to update job after success",
				"job_id", j.ID.String(), "error", err)
		}
		return
	}

	j.AttemptsMade++
	j.LastError = handlerErr.Error()

	switch {
	case IsUnrecoverable(handlerErr):
		j.State = StateFailed
		j.FinishedAt = &now
		if err := q.backend.Update(ctx, j); err != nil {
			q.logger.ErrorContext(ctx, "failed to update unrecoverable job",
				"job_id", j.ID.String(), "error", err)
		}
		q.logger.WarnContext(ctx, "job failed without retry",
			"queue", q.name,
			"job_id", j.ID.String(),
			"error", handlerErr,
		)

	case j.AttemptsMade < j.MaxAttempts:
		delay := j.Backoff.Next(j.AttemptsMade)
		j.State = StateDelayed
		j.RunAt = now.Add(delay)
		if err := q.backend.Update(ctx, j); err != nil {
			q.logger.ErrorContext(ctx, "failed to update job for retry",
				"job_id", j.ID.String(), "error", err)
			return
		}
		q.logger.InfoContext(ctx, "job scheduled for retry",
			"queue", q.name,
			"job_id", j.ID.String(),
			"attempts_made", j.AttemptsMade,
			"max_attempts", j.MaxAttempts,
			"delay", delay,
		)

	default:
		j.State = StateFailed
		j.FinishedAt = &now
		if err := q.backend.Update(ctx, j); err != nil {
			q.logger.ErrorContext(ctx, "failed to update job as failed",
				"job_id", j.ID.String(), "error", err)
		}
		q.logger.WarnContext(ctx, "job exhausted its attempts",
			"queue", q.name,
			"job_id", j.ID.String(),
			"attempts_made", j.AttemptsMade,
			"error", handlerErr,
		)
		q.emitFailed(ctx, j, handlerErr)
	}
}

// heartbeat keeps the claim of j fresh while its handler runs so the reaper
// never hands it to a second worker. The returned func stops it and waits.
func (q *Queue) heartbeat(j *Job) func() {
	if q.staleThreshold <= 0 {
		return func() {}
	}
	interval := q.staleThreshold / 3
	if interval <= 0 {
		interval = q.staleThreshold
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := q.backend.Heartbeat(context.Background(), j.ID, q.now().UTC()); err != nil {
					q.logger.Warn("job heartbeat failed", "job_id", j.ID.String(), "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// invoke calls the handler, converting a panic into an attempt failure.
func (q *Queue) invoke(ctx context.Context, handler Handler, j *Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			q.logger.ErrorContext(ctx, "job handler panicked",
				"job_id", j.ID.String(),
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("queue: handler panic: %v", rec)
		}
	}()
	return handler(ctx, j)
}

func (q *Queue) emitFailed(ctx context.Context, j *Job, cause error) {
	q.mu.Lock()
	hooks := append([]FailedHook(nil), q.failedHooks...)
	q.mu.Unlock()

	for _, h := range hooks {
		if err := h(ctx, j.Clone(), cause); err != nil {
			q.logger.ErrorContext(ctx, "failed hook returned error",
				"queue", q.name,
				"job_id", j.ID.String(),
				"error", err,
			)
		}
	}
}

func (q *Queue) sleep() {
	select {
	case <-time.After(q.pollInterval):
	case <-q.stopCh:
	}
}

func (q *Queue) trackJob(jobID string, cancel context.CancelFunc) {
	q.activeMu.Lock()
	q.activeJobs[jobID] = cancel
	q.activeMu.Unlock()
}

func (q *Queue) untrackJob(jobID string) {
	q.activeMu.Lock()
	delete(q.activeJobs, jobID)
	q.activeMu.Unlock()
}

func (q *Queue) cancelActiveJobs() {
	q.activeMu.Lock()
	defer q.activeMu.Unlock()
	for jobID, cancel := range q.activeJobs {
		q.logger.Warn("cancelling active job", "job_id", jobID)
		cancel()
	}
}

func encodeData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return append(json.RawMessage(nil), v...), nil
	case []byte:
		return append(json.RawMessage(nil), v...), nil
	default:
		return json.Marshal(v)
	}
}

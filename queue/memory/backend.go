// Package memory provides an in-process queue.Backend. Jobs do not survive a
// restart; use it for tests and single-process development setups.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/queue"
)

// compile-time interface check
var _ queue.Backend = (*Backend)(nil)

// Backend is a mutex-guarded, map-backed queue.Backend.
type Backend struct {
	mu   sync.Mutex
	jobs map[string]*queue.Job
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{jobs: make(map[string]*queue.Job)}
}

// Push stores a new job.
func (b *Backend) Push(_ context.Context, j *queue.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := j.ID.String()
	if _, ok := b.jobs[key]; ok {
		return hookrelay.ErrJobExists
	}
	b.jobs[key] = j.Clone()
	return nil
}

// Pop claims the due job with the earliest RunAt.
func (b *Backend) Pop(_ context.Context, queueName string, now time.Time) (*queue.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var next *queue.Job
	for _, j := range b.jobs {
		if j.Queue != queueName || !j.State.Pending() || j.RunAt.After(now) {
			continue
		}
		if next == nil || j.RunAt.Before(next.RunAt) ||
			(j.RunAt.Equal(next.RunAt) && j.ID.String() < next.ID.String()) {
			next = j
		}
	}
	if next == nil {
		return nil, nil //nolint:nilnil // nothing due
	}

	started := now
	next.State = queue.StateActive
	next.StartedAt = &started
	next.UpdatedAt = now
	return next.Clone(), nil
}

// Update replaces the stored job.
func (b *Backend) Update(_ context.Context, j *queue.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := j.ID.String()
	if _, ok := b.jobs[key]; !ok {
		return hookrelay.ErrJobNotFound
	}
	b.jobs[key] = j.Clone()
	return nil
}

// Get returns a copy of a job.
func (b *Backend) Get(_ context.Context, jobID id.ID) (*queue.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	j, ok := b.jobs[jobID.String()]
	if !ok {
		return nil, hookrelay.ErrJobNotFound
	}
	return j.Clone(), nil
}

// Heartbeat refreshes StartedAt of an active job.
func (b *Backend) Heartbeat(_ context.Context, jobID id.ID, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	j, ok := b.jobs[jobID.String()]
	if !ok {
		return hookrelay.ErrJobNotFound
	}
	if j.State != queue.StateActive {
		return nil
	}
	started := at
	j.StartedAt = &started
	return nil
}

// Requeue moves stale active jobs back to waiting.
func (b *Backend) Requeue(_ context.Context, queueName string, cutoff time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	n := 0
	for _, j := range b.jobs {
		if j.Queue != queueName || j.State != queue.StateActive {
			continue
		}
		if j.StartedAt == nil || !j.StartedAt.Before(cutoff) {
			continue
		}
		j.State = queue.StateWaiting
		j.RunAt = now
		j.StartedAt = nil
		j.UpdatedAt = now
		n++
	}
	return n, nil
}

// Depth counts waiting and delayed jobs.
func (b *Backend) Depth(_ context.Context, queueName string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n int64
	for _, j := range b.jobs {
		if j.Queue == queueName && j.State.Pending() {
			n++
		}
	}
	return n, nil
}

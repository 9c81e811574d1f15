package queue

import (
	"context"
	"time"

	"github.com/xraph/hookrelay/id"
)

// Backend persists jobs for a Queue. Implementations must hand each due job
// to exactly one Pop caller.
type Backend interface {
	// Push stores a new job. Returns hookrelay.ErrJobExists when the ID is taken.
	Push(ctx context.Context, j *Job) error

	// Pop claims the earliest due job of the named queue, marks it active and
	// returns it. It returns (nil, nil) when nothing is due.
	Pop(ctx context.Context, queue string, now time.Time) (*Job, error)

	// Update persists j. Waiting and delayed jobs become claimable at RunAt.
	Update(ctx context.Context, j *Job) error

	// Get returns a job by ID.
	Get(ctx context.Context, jobID id.ID) (*Job, error)

	// Heartbeat moves the claim time of an active job to at so the reaper
	// leaves it alone while its handler runs. It is a no-op for jobs that are
	// no longer active.
	Heartbeat(ctx context.Context, jobID id.ID, at time.Time) error

	// Requeue returns active jobs claimed before cutoff to the queue and
	// reports how many were moved.
	Requeue(ctx context.Context, queue string, cutoff time.Time) (int, error)

	// Depth returns the number of waiting and delayed jobs in the named queue.
	Depth(ctx context.Context, queue string) (int64, error)
}

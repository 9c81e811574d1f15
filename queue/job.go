package queue

import (
	"encoding/json"
	"math"
	"time"

	"github.com/xraph/hookrelay/id"
)

// State is the lifecycle state of a job.
type State string

const (
	// StateWaiting indicates the job is ready to run.
	StateWaiting State = "waiting"

	// StateDelayed indicates the job waits for its backoff delay to elapse.
	StateDelayed State = "delayed"

	// StateActive indicates a worker has claimed the job.
	StateActive State = "active"

	// StateCompleted indicates the handler succeeded.
	StateCompleted State = "completed"

	// StateFailed indicates the job exhausted its attempts or failed unrecoverably.
	StateFailed State = "failed"
)

// Pending reports whether a job in this state is still eligible to run.
func (s State) Pending() bool {
	return s == StateWaiting || s == StateDelayed
}

// Job is a unit of work owned by a queue.
type Job struct {
	ID    id.ID  `json:"id"`
	Queue string `json:"queue"`

	// Data is the opaque job payload handed to the handler.
	Data json.RawMessage `json:"data"`

	State State `json:"state"`

	// AttemptsMade counts finished attempts. The handler sees the value from
	// before its own attempt, so the first run observes 0.
	AttemptsMade int `json:"attempts_made"`

	// MaxAttempts is the total number of tries, the first one included.
	MaxAttempts int `json:"max_attempts"`

	Backoff Backoff `json:"backoff"`

	// RunAt is the earliest time the job may be claimed.
	RunAt time.Time `json:"run_at"`

	LastError string `json:"last_error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Data = append(json.RawMessage(nil), j.Data...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

// Options configures a single Enqueue call.
type Options struct {
	// JobID pins the job identifier. A new job ID is generated when nil.
	JobID id.ID

	// MaxAttempts is the total number of tries. Values below 1 mean 1.
	MaxAttempts int

	// Backoff governs the delay between attempts.
	Backoff Backoff

	// Delay postpones the first attempt.
	Delay time.Duration
}

// ──────────────────────────────────────────────────
// Backoff
// ──────────────────────────────────────────────────

// BackoffType selects how retry delays grow.
type BackoffType string

const (
	// BackoffExponential doubles the delay after every failed attempt.
	BackoffExponential BackoffType = "exponential"

	// BackoffFixed waits the same delay before every retry.
	BackoffFixed BackoffType = "fixed"
)

// Backoff describes the retry delay policy of a job.
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`

	// Max caps the computed delay. Zero means uncapped.
	Max time.Duration `json:"max,omitempty"`
}

// Exponential returns an exponential backoff starting at initial.
func Exponential(initial time.Duration) Backoff {
	return Backoff{Type: BackoffExponential, Delay: initial}
}

// Next returns the delay before the retry that follows attemptsMade failed
// attempts. Exponential: Delay * 2^(attemptsMade-1).
func (b Backoff) Next(attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}

	d := b.Delay
	if b.Type != BackoffFixed {
		f := float64(b.Delay) * math.Pow(2, float64(attemptsMade-1))
		if f >= math.MaxInt64 {
			d = time.Duration(math.MaxInt64)
		} else {
			d = time.Duration(f)
		}
	}

	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/queue"
	"github.com/xraph/hookrelay/queue/memory"
)

func ctx() context.Context { return context.Background() }

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBackoffNext(t *testing.T) {
	b := queue.Exponential(time.Second)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := b.Next(i + 1); got != w {
			t.Errorf("Next(%d): expected %v, got %v", i+1, w, got)
		}
	}

	b.Max = 3 * time.Second
	if got := b.Next(5); got != 3*time.Second {
		t.Errorf("expected capped delay 3s, got %v", got)
	}

	fixed := queue.Backoff{Type: queue.BackoffFixed, Delay: time.Second}
	if got := fixed.Next(4); got != time.Second {
		t.Errorf("expected fixed delay 1s, got %v", got)
	}
}

func TestProcessNext_Success(t *testing.T) {
	clk := newClock()
	q := queue.New("test", memory.New(), queue.WithClock(clk.Now))

	var seen string
	q.Process(func(_ context.Context, j *queue.Job) error {
		seen = string(j.Data)
		return nil
	})

	j, err := q.Enqueue(ctx(), map[string]string{"k": "v"}, queue.Options{MaxAttempts: 3})
	if err != nil {
		t.Fatal(err)
	}

	ran, err := q.ProcessNext(ctx())
	if err != nil || !ran {
		t.Fatalf("expected a job to run, got ran=%v err=%v", ran, err)
	}
	if seen != `{"k":"v"}` {
		t.Fatalf("unexpected data %s", seen)
	}

	got, err := q.Get(ctx(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != queue.StateCompleted {
		t.Fatalf("expected completed, got %s", got.State)
	}
}

func TestProcessNext_RetryThenExhaust(t *testing.T) {
	clk := newClock()
	q := queue.New("test", memory.New(), queue.WithClock(clk.Now))

	var attemptsSeen []int
	q.Process(func(_ context.Context, j *queue.Job) error {
		attemptsSeen = append(attemptsSeen, j.AttemptsMade)
		return errors.New("receiver down")
	})

	var hookCalls atomic.Int32
	var hookAttempts int
	q.OnFailed(func(_ context.Context, j *queue.Job, err error) error {
		hookCalls.Add(1)
		hookAttempts = j.AttemptsMade
		if err == nil {
			t.Error("expected failure cause")
		}
		return nil
	})

	j, err := q.Enqueue(ctx(), []byte(`{}`), queue.Options{
		MaxAttempts: 3,
		Backoff:     queue.Exponential(time.Second),
	})
	if err != nil {
		t.Fatal(err)
	}

	// First attempt.
	if ran, _ := q.ProcessNext(ctx()); !ran {
		t.Fatal("expected first attempt to run")
	}
	got, _ := q.Get(ctx(), j.ID)
	if got.State != queue.StateDelayed || got.AttemptsMade != 1 {
		t.Fatalf("expected delayed with 1 attempt, got %s/%d", got.State, got.AttemptsMade)
	}
	if want := clk.Now().Add(time.Second); !got.RunAt.Equal(want) {
		t.Fatalf("expected run_at %v, got %v", want, got.RunAt)
	}

	// Not due until the backoff elapses.
	if ran, _ := q.ProcessNext(ctx()); ran {
		t.Fatal("expected no job before backoff elapses")
	}

	clk.Advance(time.Second)
	if ran, _ := q.ProcessNext(ctx()); !ran {
		t.Fatal("expected second attempt to run")
	}
	got, _ = q.Get(ctx(), j.ID)
	if want := clk.Now().Add(2 * time.Second); !got.RunAt.Equal(want) {
		t.Fatalf("expected doubled backoff, run_at %v, got %v", want, got.RunAt)
	}

	clk.Advance(2 * time.Second)
	if ran, _ := q.ProcessNext(ctx()); !ran {
		t.Fatal("expected third attempt to run")
	}

	got, _ = q.Get(ctx(), j.ID)
	if got.State != queue.StateFailed || got.AttemptsMade != 3 {
		t.Fatalf("expected failed with 3 attempts, got %s/%d", got.State, got.AttemptsMade)
	}
	if hookCalls.Load() != 1 {
		t.Fatalf("expected failed hook once, got %d", hookCalls.Load())
	}
	if hookAttempts != 3 {
		t.Fatalf("expected hook to observe 3 attempts, got %d", hookAttempts)
	}
	if len(attemptsSeen) != 3 || attemptsSeen[0] != 0 || attemptsSeen[1] != 1 || attemptsSeen[2] != 2 {
		t.Fatalf("unexpected attempts seen by handler: %v", attemptsSeen)
	}

	clk.Advance(time.Hour)
	if ran, _ := q.ProcessNext(ctx()); ran {
		t.Fatal("expected failed job to stay failed")
	}
}

func TestProcessNext_Unrecoverable(t *testing.T) {
	clk := newClock()
	q := queue.New("test", memory.New(), queue.WithClock(clk.Now))

	q.Process(func(context.Context, *queue.Job) error {
		return queue.Unrecoverable(errors.New("event gone"))
	})
	var hookCalls int
	q.OnFailed(func(context.Context, *queue.Job, error) error {
		hookCalls++
		return nil
	})

	j, err := q.Enqueue(ctx(), nil, queue.Options{MaxAttempts: 5})
	if err != nil {
		t.Fatal(err)
	}
	if ran, _ := q.ProcessNext(ctx()); !ran {
		t.Fatal("expected job to run")
	}

	got, _ := q.Get(ctx(), j.ID)
	if got.State != queue.StateFailed {
		t.Fatalf("expected failed, got %s", got.State)
	}
	if hookCalls != 0 {
		t.Fatalf("expected no failed hook for unrecoverable errors, got %d", hookCalls)
	}
}

func TestProcessNext_PanicIsAttemptFailure(t *testing.T) {
	clk := newClock()
	q := queue.New("test", memory.New(), queue.WithClock(clk.Now))

	q.Process(func(context.Context, *queue.Job) error {
		panic("handler bug")
	})

	j, err := q.Enqueue(ctx(), nil, queue.Options{MaxAttempts: 2, Backoff: queue.Exponential(time.Second)})
	if err != nil {
		t.Fatal(err)
	}
	if ran, _ := q.ProcessNext(ctx()); !ran {
		t.Fatal("expected job to run")
	}

	got, _ := q.Get(ctx(), j.ID)
	if got.State != queue.StateDelayed || got.AttemptsMade != 1 {
		t.Fatalf("expected retry after panic, got %s/%d", got.State, got.AttemptsMade)
	}
}

func TestEnqueue_Delay(t *testing.T) {
	clk := newClock()
	q := queue.New("test", memory.New(), queue.WithClock(clk.Now))
	q.Process(func(context.Context, *queue.Job) error { return nil })

	if _, err := q.Enqueue(ctx(), nil, queue.Options{Delay: time.Minute}); err != nil {
		t.Fatal(err)
	}
	if ran, _ := q.ProcessNext(ctx()); ran {
		t.Fatal("expected delayed job to wait")
	}
	clk.Advance(time.Minute)
	if ran, _ := q.ProcessNext(ctx()); !ran {
		t.Fatal("expected delayed job to run")
	}
}

func TestStart_RequiresHandler(t *testing.T) {
	q := queue.New("test", memory.New())
	if err := q.Start(ctx()); !errors.Is(err, hookrelay.ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
}

func TestStartStop_RunsJobs(t *testing.T) {
	q := queue.New("test", memory.New(),
		queue.WithConcurrency(2),
		queue.WithPollInterval(5*time.Millisecond),
	)

	var processed atomic.Int32
	done := make(chan struct{}, 10)
	q.Process(func(context.Context, *queue.Job) error {
		processed.Add(1)
		done <- struct{}{}
		return nil
	})

	for range 5 {
		if _, err := q.Enqueue(ctx(), nil, queue.Options{}); err != nil {
			t.Fatal(err)
		}
	}

	if err := q.Start(ctx()); err != nil {
		t.Fatal(err)
	}
	for range 5 {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx(), 5*time.Second)
	defer cancel()
	if err := q.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
	if processed.Load() != 5 {
		t.Fatalf("expected 5 processed jobs, got %d", processed.Load())
	}

	depth, err := q.Depth(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if depth != 0 {
		t.Fatalf("expected empty queue, got %d", depth)
	}
}

func TestReaperLeavesRunningJobAlone(t *testing.T) {
	q := queue.New("test", memory.New(),
		queue.WithConcurrency(2),
		queue.WithPollInterval(5*time.Millisecond),
		queue.WithStaleJobThreshold(50*time.Millisecond),
	)

	var runs, running, maxRunning atomic.Int32
	done := make(chan struct{}, 4)
	q.Process(func(context.Context, *queue.Job) error {
		runs.Add(1)
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(300 * time.Millisecond)
		running.Add(-1)
		done <- struct{}{}
		return nil
	})

	j, err := q.Enqueue(ctx(), nil, queue.Options{MaxAttempts: 3})
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Start(ctx()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the job")
	}
	// Leave the reaper a few more ticks to misbehave.
	time.Sleep(150 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx(), 5*time.Second)
	defer cancel()
	if err := q.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}

	if n := runs.Load(); n != 1 {
		t.Fatalf("expected one run, got %d", n)
	}
	if n := maxRunning.Load(); n != 1 {
		t.Fatalf("expected at most one concurrent attempt, got %d", n)
	}
	got, err := q.Get(ctx(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != queue.StateCompleted || got.AttemptsMade != 0 {
		t.Fatalf("expected completed on first attempt, got state=%s attempts=%d", got.State, got.AttemptsMade)
	}
}

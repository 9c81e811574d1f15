package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/queue"
	redisqueue "github.com/xraph/hookrelay/queue/redis"
)

func ctx() context.Context { return context.Background() }

func setupBackend(t *testing.T) *redisqueue.Backend {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisqueue.New(client, redisqueue.WithKeyPrefix("test:"))
}

func newJob(runAt time.Time) *queue.Job {
	return &queue.Job{
		ID:          id.NewJobID(),
		Queue:       "deliveries",
		Data:        []byte(`{"event_id":"evt_1"}`),
		State:       queue.StateWaiting,
		MaxAttempts: 3,
		Backoff:     queue.Exponential(time.Second),
		RunAt:       runAt,
		CreatedAt:   runAt,
		UpdatedAt:   runAt,
	}
}

func TestPushGetRoundTrip(t *testing.T) {
	b := setupBackend(t)
	j := newJob(time.Now().UTC())

	if err := b.Push(ctx(), j); err != nil {
		t.Fatal(err)
	}
	if err := b.Push(ctx(), j); !errors.Is(err, hookrelay.ErrJobExists) {
		t.Fatalf("expected ErrJobExists, got %v", err)
	}

	got, err := b.Get(ctx(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != j.ID.String() {
		t.Fatalf("expected %s, got %s", j.ID, got.ID)
	}
	if string(got.Data) != string(j.Data) {
		t.Fatalf("expected data %s, got %s", j.Data, got.Data)
	}
	if got.MaxAttempts != 3 || got.Backoff.Delay != time.Second || got.Backoff.Type != queue.BackoffExponential {
		t.Fatalf("unexpected job fields: %+v", got)
	}
	if !got.RunAt.Equal(j.RunAt) {
		t.Fatalf("expected run_at %v, got %v", j.RunAt, got.RunAt)
	}

	if _, err := b.Get(ctx(), id.NewJobID()); !errors.Is(err, hookrelay.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestPopDueOnly(t *testing.T) {
	b := setupBackend(t)
	now := time.Now().UTC()

	due := newJob(now.Add(-time.Second))
	later := newJob(now.Add(time.Hour))
	for _, j := range []*queue.Job{later, due} {
		if err := b.Push(ctx(), j); err != nil {
			t.Fatal(err)
		}
	}

	got, err := b.Pop(ctx(), "deliveries", now)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID.String() != due.ID.String() {
		t.Fatal("expected the due job")
	}
	if got.State != queue.StateActive || got.StartedAt == nil {
		t.Fatalf("expected active job with started_at, got %s", got.State)
	}

	got, err = b.Pop(ctx(), "deliveries", now)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected no due job")
	}

	depth, err := b.Depth(ctx(), "deliveries")
	if err != nil {
		t.Fatal(err)
	}
	if depth != 1 {
		t.Fatalf("expected depth 1, got %d", depth)
	}
}

func TestUpdateReschedules(t *testing.T) {
	b := setupBackend(t)
	now := time.Now().UTC()

	j := newJob(now.Add(-time.Second))
	if err := b.Push(ctx(), j); err != nil {
		t.Fatal(err)
	}
	claimed, err := b.Pop(ctx(), "deliveries", now)
	if err != nil || claimed == nil {
		t.Fatalf("pop: %v", err)
	}

	claimed.AttemptsMade = 1
	claimed.State = queue.StateDelayed
	claimed.RunAt = now.Add(2 * time.Second)
	claimed.StartedAt = nil
	claimed.LastError = "boom"
	if err := b.Update(ctx(), claimed); err != nil {
		t.Fatal(err)
	}

	if got, _ := b.Pop(ctx(), "deliveries", now); got != nil {
		t.Fatal("expected delayed job to not be due yet")
	}

	got, err := b.Pop(ctx(), "deliveries", now.Add(3*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected delayed job to become due")
	}
	if got.AttemptsMade != 1 || got.LastError != "boom" {
		t.Fatalf("unexpected job after retry: %+v", got)
	}

	got.State = queue.StateCompleted
	if err := b.Update(ctx(), got); err != nil {
		t.Fatal(err)
	}
	if depth, _ := b.Depth(ctx(), "deliveries"); depth != 0 {
		t.Fatalf("expected empty queue, got %d", depth)
	}

	if err := b.Update(ctx(), newJob(now)); !errors.Is(err, hookrelay.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRequeueStale(t *testing.T) {
	b := setupBackend(t)
	now := time.Now().UTC()

	j := newJob(now.Add(-time.Minute))
	if err := b.Push(ctx(), j); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Pop(ctx(), "deliveries", now.Add(-30*time.Second)); err != nil {
		t.Fatal(err)
	}

	n, err := b.Requeue(ctx(), "deliveries", now.Add(-10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 requeued job, got %d", n)
	}

	got, err := b.Get(ctx(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != queue.StateWaiting || got.StartedAt != nil {
		t.Fatalf("expected waiting job without started_at, got %+v", got)
	}

	n, err = b.Requeue(ctx(), "deliveries", now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected nothing left to requeue, got %d", n)
	}
}

func TestHeartbeatDefersRequeue(t *testing.T) {
	b := setupBackend(t)
	now := time.Now().UTC()

	j := newJob(now.Add(-time.Minute))
	if err := b.Push(ctx(), j); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Pop(ctx(), "deliveries", now.Add(-30*time.Second)); err != nil {
		t.Fatal(err)
	}

	if err := b.Heartbeat(ctx(), j.ID, now); err != nil {
		t.Fatal(err)
	}
	n, err := b.Requeue(ctx(), "deliveries", now.Add(-10*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected refreshed job to stay active, requeued %d", n)
	}

	got, err := b.Get(ctx(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != queue.StateActive || got.StartedAt == nil || !got.StartedAt.Equal(now) {
		t.Fatalf("expected active job claimed at %v, got %+v", now, got)
	}
}

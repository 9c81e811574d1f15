// Package redis provides a queue.Backend on Redis. Each job is a hash; a
// sorted set per queue orders claimable jobs by RunAt and a second one tracks
// claimed jobs so the reaper can find them.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	q := queue.New("webhook-delivery", redisqueue.New(client))
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/queue"
)

// compile-time interface check
var _ queue.Backend = (*Backend)(nil)

// Option configures the Backend.
type Option func(*Backend)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(b *Backend) { b.prefix = prefix }
}

// Backend implements queue.Backend on Redis.
type Backend struct {
	rdb    goredis.UniversalClient
	prefix string
}

// New creates a Redis queue backend. The caller owns the client lifecycle.
func New(rdb goredis.UniversalClient, opts ...Option) *Backend {
	b := &Backend{rdb: rdb, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Ping checks Redis connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// popScript atomically moves the earliest due job from the queue set to the
// active set.
// KEYS[1] = queue sorted set
// KEYS[2] = active sorted set
// ARGV[1] = current time score
var popScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then return false end
redis.call('ZREM', KEYS[1], ids[1])
redis.call('ZADD', KEYS[2], ARGV[1], ids[1])
return ids[1]
`)

// heartbeatScript rescores a job in the active set, only while it is there.
// KEYS[1] = active sorted set
// KEYS[2] = job hash
// ARGV[1] = job id
// ARGV[2] = new claim score
// ARGV[3] = new started_at
var heartbeatScript = goredis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then return 0 end
redis.call('ZADD', KEYS[1], 'XX', ARGV[2], ARGV[1])
redis.call('HSET', KEYS[2], 'started_at', ARGV[3])
return 1
`)

// Push stores a new job and makes it claimable at RunAt.
func (b *Backend) Push(ctx context.Context, j *queue.Job) error {
	jID := j.ID.String()
	key := b.jobKey(jID)

	// HSETNX on the id field claims the key.
	ok, err := b.rdb.HSetNX(ctx, key, "id", jID).Result()
	if err != nil {
		return fmt.Errorf("hookrelay/redis: push claim: %w", err)
	}
	if !ok {
		return hookrelay.ErrJobExists
	}

	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.ZAdd(ctx, b.queueKey(j.Queue), goredis.Z{Score: scoreFromTime(j.RunAt), Member: jID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookrelay/redis: push job: %w", err)
	}
	return nil
}

// Pop claims the earliest due job of the named queue.
func (b *Backend) Pop(ctx context.Context, queueName string, now time.Time) (*queue.Job, error) {
	keys := []string{b.queueKey(queueName), b.activeKey(queueName)}
	jID, err := popScript.Run(ctx, b.rdb, keys, scoreFromTime(now)).Text()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil //nolint:nilnil // nothing due
		}
		return nil, fmt.Errorf("hookrelay/redis: pop script: %w", err)
	}

	key := b.jobKey(jID)
	ts := now.UTC().Format(time.RFC3339Nano)
	if err := b.rdb.HSet(ctx, key,
		"state", string(queue.StateActive),
		"started_at", ts,
		"updated_at", ts,
	).Err(); err != nil {
		return nil, fmt.Errorf("hookrelay/redis: pop mark active: %w", err)
	}

	return b.getByKey(ctx, key)
}

// Update persists j and re-indexes it according to its state.
func (b *Backend) Update(ctx context.Context, j *queue.Job) error {
	jID := j.ID.String()
	key := b.jobKey(jID)

	exists, err := b.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("hookrelay/redis: update exists: %w", err)
	}
	if exists == 0 {
		return hookrelay.ErrJobNotFound
	}

	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	if j.StartedAt == nil {
		pipe.HDel(ctx, key, "started_at")
	}
	if j.FinishedAt == nil {
		pipe.HDel(ctx, key, "finished_at")
	}
	pipe.ZRem(ctx, b.activeKey(j.Queue), jID)
	if j.State.Pending() {
		pipe.ZAdd(ctx, b.queueKey(j.Queue), goredis.Z{Score: scoreFromTime(j.RunAt), Member: jID})
	} else {
		pipe.ZRem(ctx, b.queueKey(j.Queue), jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hookrelay/redis: update job: %w", err)
	}
	return nil
}

// Get returns a job by ID.
func (b *Backend) Get(ctx context.Context, jobID id.ID) (*queue.Job, error) {
	return b.getByKey(ctx, b.jobKey(jobID.String()))
}

// Heartbeat refreshes the claim of an active job.
func (b *Backend) Heartbeat(ctx context.Context, jobID id.ID, at time.Time) error {
	j, err := b.Get(ctx, jobID)
	if err != nil {
		return err
	}
	jID := jobID.String()
	keys := []string{b.activeKey(j.Queue), b.jobKey(jID)}
	if err := heartbeatScript.Run(ctx, b.rdb, keys,
		jID, scoreFromTime(at), at.UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		return fmt.Errorf("hookrelay/redis: heartbeat: %w", err)
	}
	return nil
}

// Requeue moves jobs claimed before cutoff back to the queue set.
func (b *Backend) Requeue(ctx context.Context, queueName string, cutoff time.Time) (int, error) {
	ids, err := b.rdb.ZRangeByScore(ctx, b.activeKey(queueName), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(scoreFromTime(cutoff), 'f', -1, 64),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("hookrelay/redis: requeue range: %w", err)
	}

	now := time.Now().UTC()
	ts := now.Format(time.RFC3339Nano)
	moved := 0
	for _, jID := range ids {
		// ZREM wins the race against a worker finishing the job concurrently.
		n, err := b.rdb.ZRem(ctx, b.activeKey(queueName), jID).Result()
		if err != nil {
			return moved, fmt.Errorf("hookrelay/redis: requeue claim: %w", err)
		}
		if n == 0 {
			continue
		}

		key := b.jobKey(jID)
		pipe := b.rdb.TxPipeline()
		pipe.HSet(ctx, key,
			"state", string(queue.StateWaiting),
			"run_at", ts,
			"updated_at", ts,
		)
		pipe.HDel(ctx, key, "started_at")
		pipe.ZAdd(ctx, b.queueKey(queueName), goredis.Z{Score: scoreFromTime(now), Member: jID})
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, fmt.Errorf("hookrelay/redis: requeue job: %w", err)
		}
		moved++
	}
	return moved, nil
}

// Depth returns the number of waiting and delayed jobs.
func (b *Backend) Depth(ctx context.Context, queueName string) (int64, error) {
	n, err := b.rdb.ZCard(ctx, b.queueKey(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("hookrelay/redis: depth: %w", err)
	}
	return n, nil
}

func (b *Backend) getByKey(ctx context.Context, key string) (*queue.Job, error) {
	vals, err := b.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hookrelay/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, hookrelay.ErrJobNotFound
	}
	return jobFromMap(vals)
}

// ──────────────────────────────────────────────────
// Hash encoding
// ──────────────────────────────────────────────────

func jobToMap(j *queue.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":               j.ID.String(),
		"queue":            j.Queue,
		"data":             string(j.Data),
		"state":            string(j.State),
		"attempts_made":    strconv.Itoa(j.AttemptsMade),
		"max_attempts":     strconv.Itoa(j.MaxAttempts),
		"backoff_type":     string(j.Backoff.Type),
		"backoff_delay_ms": strconv.FormatInt(j.Backoff.Delay.Milliseconds(), 10),
		"backoff_max_ms":   strconv.FormatInt(j.Backoff.Max.Milliseconds(), 10),
		"run_at":           j.RunAt.UTC().Format(time.RFC3339Nano),
		"last_error":       j.LastError,
		"created_at":       j.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":       j.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if j.FinishedAt != nil {
		m["finished_at"] = j.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func jobFromMap(m map[string]string) (*queue.Job, error) {
	jID, err := id.ParseWithPrefix(m["id"], id.PrefixJob)
	if err != nil {
		return nil, fmt.Errorf("hookrelay/redis: parse job id: %w", err)
	}

	attempts, _ := strconv.Atoi(m["attempts_made"])               //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])             //nolint:errcheck // best-effort parse from trusted Redis data
	delayMs, _ := strconv.ParseInt(m["backoff_delay_ms"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	maxMs, _ := strconv.ParseInt(m["backoff_max_ms"], 10, 64)     //nolint:errcheck // best-effort parse from trusted Redis data
	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &queue.Job{
		ID:           jID,
		Queue:        m["queue"],
		Data:         []byte(m["data"]),
		State:        queue.State(m["state"]),
		AttemptsMade: attempts,
		MaxAttempts:  maxAttempts,
		Backoff: queue.Backoff{
			Type:  queue.BackoffType(m["backoff_type"]),
			Delay: time.Duration(delayMs) * time.Millisecond,
			Max:   time.Duration(maxMs) * time.Millisecond,
		},
		RunAt:     runAt,
		LastError: m["last_error"],
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["finished_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.FinishedAt = &t
	}
	return j, nil
}

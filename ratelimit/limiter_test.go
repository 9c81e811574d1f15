package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/hookrelay/ratelimit"
)

// drain takes every token currently in the bucket and returns how many it got.
func drain(l *ratelimit.Limiter, webhookID string, limit int) int {
	n := 0
	for l.Allow(webhookID, limit) {
		n++
		if n > limit*2 {
			break
		}
	}
	return n
}

func TestAllowBurstEqualsLimit(t *testing.T) {
	for _, limit := range []int{1, 3, 10} {
		l := ratelimit.New()
		if got := drain(l, "wh_burst", limit); got != limit {
			t.Fatalf("limit %d: expected burst of %d, got %d", limit, limit, got)
		}
	}
}

func TestUnlimited(t *testing.T) {
	l := ratelimit.New()
	for i := 0; i < 1000; i++ {
		if !l.Allow("wh_free", 0) {
			t.Fatalf("call %d denied with no limit", i)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx, "wh_free", 0); err != nil {
		t.Fatalf("Wait without a limit must not block or fail, got %v", err)
	}
}

func TestBucketsArePerWebhook(t *testing.T) {
	l := ratelimit.New()

	drain(l, "wh_a", 2)
	if l.Allow("wh_a", 2) {
		t.Fatal("wh_a should be exhausted")
	}
	if !l.Allow("wh_b", 2) {
		t.Fatal("wh_b must not share wh_a's bucket")
	}
}

func TestRefill(t *testing.T) {
	l := ratelimit.New()
	drain(l, "wh_refill", 10)

	// 10/s refills one token every 100ms.
	time.Sleep(150 * time.Millisecond)
	if !l.Allow("wh_refill", 10) {
		t.Fatal("expected a token after refill")
	}
}

func TestWaitBlocksUntilToken(t *testing.T) {
	l := ratelimit.New()
	drain(l, "wh_wait", 20)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := l.Wait(ctx, "wh_wait", 20); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if waited := time.Since(start); waited < 20*time.Millisecond {
		t.Fatalf("expected Wait to block for a refill, returned after %v", waited)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	l := ratelimit.New()
	drain(l, "wh_slow", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// x/time/rate fails fast when the next token lies past the deadline.
	start := time.Now()
	if err := l.Wait(ctx, "wh_slow", 1); err == nil {
		t.Fatal("expected Wait to fail before the next token at 1/s")
	}
	if waited := time.Since(start); waited > 500*time.Millisecond {
		t.Fatalf("Wait ignored the deadline, returned after %v", waited)
	}
}

func TestChangedLimitStartsFreshBucket(t *testing.T) {
	l := ratelimit.New()
	drain(l, "wh_change", 1)

	if !l.Allow("wh_change", 5) {
		t.Fatal("raising the limit should start a full bucket")
	}
	if got := drain(l, "wh_change", 5); got != 4 {
		t.Fatalf("expected 4 tokens left at 5/s, got %d", got)
	}
}

func TestReset(t *testing.T) {
	l := ratelimit.New()
	drain(l, "wh_reset", 1)

	l.Reset("wh_reset")
	if !l.Allow("wh_reset", 1) {
		t.Fatal("expected a full bucket after Reset")
	}
}

func TestConcurrentAllow(t *testing.T) {
	l := ratelimit.New()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("wh_busy", 100) {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	// 100 tokens up front, plus whatever refilled while the goroutines ran.
	if n := allowed.Load(); n < 100 || n > 120 {
		t.Fatalf("expected about 100 allowed, got %d", n)
	}
}

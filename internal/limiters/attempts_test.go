package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, max int) (*Attempts, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return New(rdb, Config{Prefix: "lim:test", MaxAttempts: max, Window: time.Minute}), mr
}

func TestAttemptsLimitAndReset(t *testing.T) {
	l, _ := newTestLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.RecordFailure(ctx, "acc-1"); err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
	}
	if err := l.Check(ctx, "acc-1"); err != nil {
		t.Fatalf("expected check to pass below threshold: %v", err)
	}
	if err := l.RecordFailure(ctx, "acc-1"); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected ErrLimited on third failure, got %v", err)
	}
	if err := l.Check(ctx, "acc-1"); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected check to fail at threshold, got %v", err)
	}
	if d := l.RetryAfter(ctx, "acc-1"); d <= 0 || d > time.Minute {
		t.Fatalf("unexpected retry after %v", d)
	}
	if err := l.Check(ctx, "acc-2"); err != nil {
		t.Fatalf("other subject should be unaffected: %v", err)
	}
	if err := l.Reset(ctx, "acc-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.Check(ctx, "acc-1"); err != nil {
		t.Fatalf("expected reset to clear limit: %v", err)
	}
}

func TestAttemptsWindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t, 1)
	ctx := context.Background()
	_ = l.RecordFailure(ctx, "acc-1")
	if err := l.Check(ctx, "acc-1"); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected limited, got %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if err := l.Check(ctx, "acc-1"); err != nil {
		t.Fatalf("expected window to expire, got %v", err)
	}
}

func TestNilAttemptsIsNoop(t *testing.T) {
	var l *Attempts
	ctx := context.Background()
	if l.Check(ctx, "x") != nil || l.RecordFailure(ctx, "x") != nil || l.Reset(ctx, "x") != nil {
		t.Fatal("nil limiter should be a no-op")
	}
}

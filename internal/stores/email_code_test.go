package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*EmailCodeStore, *miniredis.Miniredis) {
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
	return NewEmailCodeStore(rdb, "t"), mr
}

func saveCode(t *testing.T, s *EmailCodeStore, email, code string) {
	t.Helper()
	err := s.Save(context.Background(), email, &EmailCodeRecord{
		AccountID: "acc-1",
		CodeHash:  HashCode(email, code),
		ExpiresAt: time.Now().Add(10 * time.Minute).Unix(),
	}, 10*time.Minute)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
}

func TestConsumeMatchDeletesRecord(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	saveCode(t, s, "Bob@Example.com", "123456")

	id, err := s.Consume(ctx, "bob@example.com", HashCode("bob@example.com", "123456"), 5)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if id != "acc-1" {
		t.Fatalf("expected acc-1, got %s", id)
	}
	if _, err := s.Consume(ctx, "bob@example.com", HashCode("bob@example.com", "123456"), 5); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected single use, got %v", err)
	}
}

func TestConsumeMismatchCountsAttempts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	saveCode(t, s, "bob@example.com", "123456")

	wrong := HashCode("bob@example.com", "654321")
	for i := 0; i < 2; i++ {
		if _, err := s.Consume(ctx, "bob@example.com", wrong, 3); !errors.Is(err, ErrCodeMismatch) {
			t.Fatalf("attempt %d: expected mismatch, got %v", i, err)
		}
	}
	if _, err := s.Consume(ctx, "bob@example.com", wrong, 3); !errors.Is(err, ErrCodeAttemptsExceeded) {
		t.Fatalf("expected attempts exceeded, got %v", err)
	}
	if _, err := s.Consume(ctx, "bob@example.com", HashCode("bob@example.com", "123456"), 3); !errors.Is(err, ErrCodeNotFound) {
		t.Fatalf("expected record gone after lockout, got %v", err)
	}
}

func TestConsumeExpired(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	err := s.Save(ctx, "bob@example.com", &EmailCodeRecord{
		AccountID: "acc-1",
		CodeHash:  HashCode("bob@example.com", "123456"),
		ExpiresAt: time.Now().Add(-time.Second).Unix(),
	}, time.Minute)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.Consume(ctx, "bob@example.com", HashCode("bob@example.com", "123456"), 5); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestCooldownWindow(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	if left, err := s.StartCooldown(ctx, "bob@example.com", 30*time.Second); err != nil || left != 0 {
		t.Fatalf("first claim: left=%v err=%v", left, err)
	}
	left, err := s.StartCooldown(ctx, "bob@example.com", 30*time.Second)
	if !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected cooldown active, got %v", err)
	}
	if left <= 0 || left > 30*time.Second {
		t.Fatalf("unexpected remaining %v", left)
	}

	mr.FastForward(31 * time.Second)
	if _, err := s.StartCooldown(ctx, "bob@example.com", 30*time.Second); err != nil {
		t.Fatalf("expected window to reopen, got %v", err)
	}

	if err := s.ClearCooldown(ctx, "bob@example.com"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := s.StartCooldown(ctx, "bob@example.com", 30*time.Second); err != nil {
		t.Fatalf("expected cleared window to reopen, got %v", err)
	}
}

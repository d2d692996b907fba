package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrLimited     = errors.New("attempt limit reached")
	ErrUnavailable = errors.New("attempt limiter unavailable")
)

// Config for one limiter namespace.
type Config struct {
	// Prefix separates limiter namespaces, e.g. "lim:2fa".
	Prefix      string
	MaxAttempts int
	Window      time.Duration
}

// Attempts is a per-subject fixed-window failure counter.
type Attempts struct {
	redis  redis.UniversalClient
	prefix string
	max    int64
	window time.Duration
}

// New applies defaults of 5 attempts per minute.
func New(client redis.UniversalClient, cfg Config) *Attempts {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "lim"
	}
	return &Attempts{redis: client, prefix: cfg.Prefix, max: int64(cfg.MaxAttempts), window: cfg.Window}
}

func (l *Attempts) key(subject string) string {
	return l.prefix + ":" + subject
}

// Check fails with ErrLimited if subject is already at the threshold.
func (l *Attempts) Check(ctx context.Context, subject string) error {
	if l == nil {
		return nil
	}
	n, err := l.redis.Get(ctx, l.key(subject)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n >= l.max {
		return ErrLimited
	}
	return nil
}

// RecordFailure counts one failure and returns ErrLimited when this failure
// reached the threshold.
func (l *Attempts) RecordFailure(ctx context.Context, subject string) error {
	if l == nil {
		return nil
	}
	key := l.key(subject)
	n, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if n >= l.max {
		return ErrLimited
	}
	return nil
}

// Reset clears the counter after a success.
func (l *Attempts) Reset(ctx context.Context, subject string) error {
	if l == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RetryAfter reports how long until the window for subject closes.
func (l *Attempts) RetryAfter(ctx context.Context, subject string) time.Duration {
	if l == nil {
		return 0
	}
	d, err := l.redis.PTTL(ctx, l.key(subject)).Result()
	if err != nil || d < 0 {
		return 0
	}
	return d
}

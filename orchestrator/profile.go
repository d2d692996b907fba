package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// fetchProfile retries transient failures with linear backoff. Authorization
// failures are not retried.
func (o *Orchestrator) fetchProfile(ctx context.Context, accountID string) (*Profile, error) {
	var lastErr error
	for try := 0; try <= o.cfg.ProfileFetchRetries; try++ {
		if try > 0 {
			if err := sleepCtx(ctx, time.Duration(try)*o.cfg.ProfileRetryBackoff); err != nil {
				return nil, err
			}
		}
		p, err := o.profiles.GetProfile(ctx, accountID)
		if err == nil && p != nil {
			return p, nil
		}
		if err == nil {
			err = errors.New("empty profile")
		}
		lastErr = err
		if errors.Is(err, ErrNotAuthorized) || ctx.Err() != nil {
			break
		}
		o.log.Debug("profile fetch failed", zap.Int("try", try+1), zap.Error(err))
	}
	return nil, errors.Join(ErrProfileUnavailable, lastErr)
}

// profileOrClaims never fails: a persistent fetch error yields a degraded
// profile built from the session.
func (o *Orchestrator) profileOrClaims(ctx context.Context, s *Session) *Profile {
	p, err := o.fetchProfile(ctx, s.AccountID)
	if err == nil {
		return p
	}
	o.log.Warn("using degraded profile", zap.String("account_id", s.AccountID), zap.Error(err))
	return &Profile{AccountID: s.AccountID, Email: s.Email, Degraded: true}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

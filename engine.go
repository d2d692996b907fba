package authflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	internalaudit "github.com/MrEthical07/authflow/internal/audit"
	"github.com/MrEthical07/authflow/internal"
	"github.com/MrEthical07/authflow/internal/limiters"
	"github.com/MrEthical07/authflow/internal/stores"
	"github.com/MrEthical07/authflow/jwt"
	"github.com/MrEthical07/authflow/password"
	"github.com/MrEthical07/authflow/session"
	"github.com/MrEthical07/authflow/totp"
	"go.uber.org/zap"
)

// Engine is the identity provider and second-factor gateway. Create one with
// New().WithConfig(...).Build().
type Engine struct {
	config Config
	now    func() time.Time
	log    *zap.Logger

	accounts AccountStore
	sender   CodeSender

	sessions            *session.Store
	emailCodes          *stores.EmailCodeStore
	loginLimiter        *limiters.Attempts
	secondFactorLimiter *limiters.Attempts

	passwords *password.Hasher
	// dummyHash is verified against for unknown emails.
	dummyHash string
	tokens    *jwt.Manager
	totp      *totp.Engine

	metrics *Metrics
	audit   *internalaudit.Dispatcher
}

// Close flushes buffered audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports events lost to a full audit buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return NewMetrics(MetricsConfig{}).Snapshot()
	}
	return e.metrics.Snapshot()
}

// TOTP exposes the engine's code generator, mainly for tests and tooling.
func (e *Engine) TOTP() *totp.Engine {
	return e.totp
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil {
		return
	}
	e.metrics.Inc(id)
}

// issueSession persists a new session and mints its token pair.
func (e *Engine) issueSession(ctx context.Context, acct AccountRecord, method session.Method, amr []string) (*Session, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}

	now := e.now()
	rec := &session.Session{
		ID:          sid.String(),
		AccountID:   acct.ID,
		Email:       acct.Email,
		Method:      method,
		AMR:         amr,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.config.JWT.RefreshTTL),
		RefreshHash: secret.Hash(),
	}
	if err := e.sessions.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	out, err := e.tokenPair(rec, secret)
	if err != nil {
		_ = e.sessions.Delete(ctx, rec.ID)
		return nil, err
	}
	e.metricInc(MetricSessionCreated)
	return out, nil
}

func (e *Engine) tokenPair(rec *session.Session, secret internal.RefreshSecret) (*Session, error) {
	access, exp, err := e.tokens.Issue(rec.AccountID, rec.ID, rec.Email, rec.AMR)
	if err != nil {
		return nil, err
	}
	refresh, err := internal.EncodeRefreshToken(rec.ID, secret)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessExpiresAt: exp,
		SessionID:       rec.ID,
		AccountID:       rec.AccountID,
		Email:           rec.Email,
		Method:          string(rec.Method),
	}, nil
}

// revokeOtherSessions is best effort; failures are logged, not returned.
func (e *Engine) revokeOtherSessions(ctx context.Context, accountID, keep string) {
	n, err := e.sessions.DeleteAccount(ctx, accountID, keep)
	if err != nil {
		e.log.Warn("revoke sessions failed", zap.String("account_id", accountID), zap.Error(err))
		return
	}
	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionRevoked)
	}
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTwoFactorAlreadyEnabled) ||
		errors.Is(err, ErrTwoFactorNotEnabled) ||
		errors.Is(err, ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

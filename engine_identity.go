package authflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authflow/internal"
	"github.com/MrEthical07/authflow/internal/flows"
	"github.com/MrEthical07/authflow/internal/limiters"
	"github.com/MrEthical07/authflow/internal/stores"
	"github.com/MrEthical07/authflow/password"
	"github.com/MrEthical07/authflow/session"
	"go.uber.org/zap"
)

// SignInWithPassword checks email and password and, on success, establishes a
// session immediately. Callers that need further factors must sign the
// session out themselves.
func (e *Engine) SignInWithPassword(ctx context.Context, email, pw string) (*Session, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	subject := stores.NormalizeEmail(email)

	if err := e.loginLimiter.Check(ctx, subject); err != nil {
		return nil, e.signInLimited(ctx, subject, err)
	}

	acct, err := e.accounts.GetAccountByEmail(ctx, subject)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return nil, storeErr(err)
		}
		// Burn comparable time so unknown emails are not distinguishable.
		_, _ = e.passwords.Verify(pw, e.dummyHash)
		return nil, e.signInFailed(ctx, subject, "", ErrInvalidCredentials)
	}

	ok, err := e.passwords.Verify(pw, acct.PasswordHash)
	if err != nil {
		e.log.Error("stored password hash unusable", zap.String("account_id", acct.ID), zap.Error(err))
	}
	if !ok {
		return nil, e.signInFailed(ctx, subject, acct.ID, ErrInvalidCredentials)
	}
	if statusErr := accountStatusError(acct.Status); statusErr != nil {
		e.metricInc(MetricSignInFailure)
		e.emitAudit(ctx, auditEventSignInFailure, false, acct.ID, "", statusErr, nil)
		return nil, statusErr
	}

	_ = e.loginLimiter.Reset(ctx, subject)
	e.maybeUpgradeHash(ctx, acct, pw)

	sess, err := e.issueSession(ctx, acct, session.MethodPassword, []string{"pwd"})
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricSignInSuccess)
	e.emitAudit(ctx, auditEventSignInSuccess, true, acct.ID, sess.SessionID, nil, methodMeta(session.MethodPassword))
	return sess, nil
}

func (e *Engine) signInLimited(ctx context.Context, subject string, err error) error {
	if errors.Is(err, limiters.ErrLimited) {
		e.metricInc(MetricSignInRateLimited)
		e.emitAudit(ctx, auditEventSignInRateLimited, false, "", "", ErrLoginRateLimited, func() map[string]string {
			return map[string]string{"email": subject}
		})
		return ErrLoginRateLimited
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

func (e *Engine) signInFailed(ctx context.Context, subject, accountID string, cause error) error {
	e.metricInc(MetricSignInFailure)
	if err := e.loginLimiter.RecordFailure(ctx, subject); err != nil {
		if errors.Is(err, limiters.ErrLimited) {
			e.metricInc(MetricSignInRateLimited)
		} else {
			e.log.Warn("login limiter unavailable", zap.Error(err))
		}
	}
	e.emitAudit(ctx, auditEventSignInFailure, false, accountID, "", cause, nil)
	return cause
}

func (e *Engine) maybeUpgradeHash(ctx context.Context, acct AccountRecord, pw string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	upgrade, err := e.passwords.NeedsUpgrade(acct.PasswordHash)
	if err != nil || !upgrade {
		return
	}
	hash, err := e.passwords.Hash(pw)
	if err != nil {
		return
	}
	if err := e.accounts.UpdatePasswordHash(ctx, acct.ID, hash); err != nil {
		e.log.Warn("password hash upgrade failed", zap.String("account_id", acct.ID), zap.Error(err))
	}
}

// GetSession validates an access token and returns the live session behind it.
func (e *Engine) GetSession(ctx context.Context, accessToken string) (*SessionInfo, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.tokens.Parse(accessToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	rec, err := e.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, sessionErr(err)
	}
	if rec.AccountID != claims.AccountID {
		return nil, ErrTokenInvalid
	}
	return &SessionInfo{
		SessionID: rec.ID,
		AccountID: rec.AccountID,
		Email:     rec.Email,
		Method:    string(rec.Method),
		AMR:       rec.AMR,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// RefreshSession rotates the refresh token and mints a new access token.
// Presenting a superseded refresh token revokes the session.
func (e *Engine) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}
	res := flows.RunRefresh(ctx, refreshToken, e.refreshDeps())

	switch res.Failure {
	case flows.RefreshFailureNone:
	case flows.RefreshFailureReuse:
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, "", res.SessionID, ErrRefreshReuse, nil)
		return nil, ErrRefreshReuse
	case flows.RefreshFailureAccount:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", res.SessionID, res.Err, nil)
		return nil, res.Err
	case flows.RefreshFailureRotate, flows.RefreshFailureNextSecret:
		e.metricInc(MetricRefreshFailure)
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, res.Err)
	default:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", res.SessionID, ErrRefreshInvalid, nil)
		return nil, ErrRefreshInvalid
	}

	out, err := e.tokenPair(res.Session, internal.RefreshSecret(res.NextSecret))
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}
	out.Method = string(session.MethodRefresh)
	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, res.Session.AccountID, res.SessionID, nil, nil)
	return out, nil
}

func (e *Engine) refreshDeps() flows.RefreshDeps {
	return flows.RefreshDeps{
		DecodeRefreshToken: func(token string) (string, [32]byte, error) {
			id, secret, err := internal.DecodeRefreshToken(token)
			return id, secret, err
		},
		NewRefreshSecret: func() ([32]byte, error) {
			s, err := internal.NewRefreshSecret()
			return s, err
		},
		HashRefreshSecret: func(s [32]byte) [32]byte {
			return internal.RefreshSecret(s).Hash()
		},
		CheckAccount: func(ctx context.Context, accountID string) error {
			acct, err := e.accounts.GetAccountByID(ctx, accountID)
			if err != nil {
				if errors.Is(err, ErrAccountNotFound) {
					return ErrSessionNotFound
				}
				return storeErr(err)
			}
			return accountStatusError(acct.Status)
		},
		SessionStore: e.sessions,
	}
}

// SignOut revokes the session behind accessToken. Expired or already revoked
// sessions are not an error.
func (e *Engine) SignOut(ctx context.Context, accessToken string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}
	claims, err := e.tokens.Parse(accessToken)
	if err != nil {
		return ErrTokenInvalid
	}
	if err := e.sessions.Delete(ctx, claims.SessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSignOut, true, claims.AccountID, claims.SessionID, nil, nil)
	return nil
}

// UpdatePassword replaces the account's password and revokes every session
// except keepSessionID. Accounts with two-factor must pass a step-up code;
// others ignore it.
func (e *Engine) UpdatePassword(ctx context.Context, accountID, keepSessionID, newPassword, code string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	if err := password.CheckPolicy(newPassword); err != nil {
		e.emitAudit(ctx, auditEventPasswordChanged, false, accountID, keepSessionID, ErrPasswordPolicy, nil)
		return fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	if _, err := e.accounts.GetAccountByID(ctx, accountID); err != nil {
		return storeErr(err)
	}
	sec, err := e.accounts.GetSecurityProfile(ctx, accountID)
	if err != nil {
		return storeErr(err)
	}
	if sec.TwoFactorEnabled {
		if err := e.stepUp(ctx, accountID, code, "change_password"); err != nil {
			return err
		}
	}
	hash, err := e.passwords.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.accounts.UpdatePasswordHash(ctx, accountID, hash); err != nil {
		return storeErr(err)
	}
	e.revokeOtherSessions(ctx, accountID, keepSessionID)
	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditEventPasswordChanged, true, accountID, keepSessionID, nil, nil)
	return nil
}

// SessionCount reports live indexed sessions for an account.
func (e *Engine) SessionCount(ctx context.Context, accountID string) (int64, error) {
	n, err := e.sessions.Count(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n, nil
}

func accountStatusError(status AccountStatus) error {
	switch status {
	case AccountActive:
		return nil
	case AccountDisabled:
		return ErrAccountDisabled
	case AccountLocked:
		return ErrAccountLocked
	default:
		return ErrAccountDisabled
	}
}

func sessionErr(err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return ErrSessionNotFound
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

func methodMeta(m session.Method) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"method": string(m)}
	}
}

package authflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authflow/internal/stores"
	"github.com/MrEthical07/authflow/session"
	"github.com/MrEthical07/authflow/totp"
	"go.uber.org/zap"
)

// SendEmailOneTimeCode issues a 6-digit code to email. The response is the
// same for unknown addresses. A request inside the resend window returns a
// *CooldownError.
func (e *Engine) SendEmailOneTimeCode(ctx context.Context, email string) (*EmailCodeDispatch, error) {
	if e == nil || e.emailCodes == nil {
		return nil, ErrEngineNotReady
	}
	addr := stores.NormalizeEmail(email)
	cfg := e.config.EmailCode
	out := &EmailCodeDispatch{ExpiresIn: cfg.TTL, ResendWait: cfg.ResendCooldown}

	left, err := e.emailCodes.StartCooldown(ctx, addr, cfg.ResendCooldown)
	if err != nil {
		if errors.Is(err, stores.ErrCooldownActive) {
			e.metricInc(MetricEmailCodeCooldown)
			cd := &CooldownError{RetryAfter: left}
			e.emitAudit(ctx, auditEventEmailCodeCooldown, false, "", "", cd, nil)
			return nil, cd
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	acct, err := e.accounts.GetAccountByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return out, nil
		}
		_ = e.emailCodes.ClearCooldown(ctx, addr)
		return nil, storeErr(err)
	}
	if accountStatusError(acct.Status) != nil {
		return out, nil
	}

	code, err := totp.RandomDigits(cfg.Digits)
	if err != nil {
		_ = e.emailCodes.ClearCooldown(ctx, addr)
		return nil, err
	}
	rec := &stores.EmailCodeRecord{
		AccountID: acct.ID,
		CodeHash:  stores.HashCode(addr, code),
		ExpiresAt: time.Now().Add(cfg.TTL).Unix(),
	}
	if err := e.emailCodes.Save(ctx, addr, rec, cfg.TTL); err != nil {
		_ = e.emailCodes.ClearCooldown(ctx, addr)
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if err := e.sender.SendEmailCode(ctx, addr, code); err != nil {
		e.log.Warn("email code delivery failed", zap.String("account_id", acct.ID), zap.Error(err))
		_ = e.emailCodes.ClearCooldown(ctx, addr)
		e.emitAudit(ctx, auditEventEmailCodeSent, false, acct.ID, "", ErrCodeDeliveryFailed, nil)
		return nil, ErrCodeDeliveryFailed
	}

	e.metricInc(MetricEmailCodeSent)
	e.emitAudit(ctx, auditEventEmailCodeSent, true, acct.ID, "", nil, nil)
	return out, nil
}

// VerifyEmailOneTimeCode consumes the outstanding code for email and
// establishes a session. A wrong code leaves the code usable until it expires
// or its attempt cap is reached.
func (e *Engine) VerifyEmailOneTimeCode(ctx context.Context, email, code string) (*Session, error) {
	if e == nil || e.emailCodes == nil {
		return nil, ErrEngineNotReady
	}
	addr := stores.NormalizeEmail(email)
	code = totp.SanitizeDigits(code)
	if len(code) != e.config.EmailCode.Digits {
		return nil, e.emailCodeFailed(ctx, "", ErrInvalidCode)
	}

	accountID, err := e.emailCodes.Consume(ctx, addr, stores.HashCode(addr, code), e.config.EmailCode.MaxAttempts)
	switch {
	case err == nil:
	case errors.Is(err, stores.ErrCodeMismatch):
		return nil, e.emailCodeFailed(ctx, "", ErrInvalidCode)
	case errors.Is(err, stores.ErrCodeAttemptsExceeded):
		return nil, e.emailCodeFailed(ctx, "", ErrEmailCodeAttemptsExceeded)
	case errors.Is(err, stores.ErrCodeExpired), errors.Is(err, stores.ErrCodeNotFound):
		return nil, e.emailCodeFailed(ctx, "", ErrEmailCodeExpired)
	default:
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	acct, err := e.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, e.emailCodeFailed(ctx, accountID, ErrEmailCodeExpired)
		}
		return nil, storeErr(err)
	}
	if statusErr := accountStatusError(acct.Status); statusErr != nil {
		return nil, e.emailCodeFailed(ctx, acct.ID, statusErr)
	}

	sess, err := e.issueSession(ctx, acct, session.MethodEmailOTP, []string{"otp_email"})
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricEmailCodeSuccess)
	e.emitAudit(ctx, auditEventEmailCodeSuccess, true, acct.ID, sess.SessionID, nil, methodMeta(session.MethodEmailOTP))
	return sess, nil
}

func (e *Engine) emailCodeFailed(ctx context.Context, accountID string, err error) error {
	e.metricInc(MetricEmailCodeFailure)
	e.emitAudit(ctx, auditEventEmailCodeFailure, false, accountID, "", err, nil)
	return err
}

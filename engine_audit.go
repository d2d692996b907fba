package authflow

import (
	"context"
	"errors"
)

const (
	auditEventSignInSuccess           = "sign_in_success"
	auditEventSignInFailure           = "sign_in_failure"
	auditEventSignInRateLimited       = "sign_in_rate_limited"
	auditEventEmailCodeSent           = "email_code_sent"
	auditEventEmailCodeCooldown       = "email_code_cooldown"
	auditEventEmailCodeSuccess        = "email_code_success"
	auditEventEmailCodeFailure        = "email_code_failure"
	auditEventRefreshSuccess          = "refresh_success"
	auditEventRefreshInvalid          = "refresh_invalid"
	auditEventRefreshReuseDetected    = "refresh_reuse_detected"
	auditEventSignOut                 = "sign_out"
	auditEventPasswordChanged         = "password_changed"
	auditEventProfileDenied           = "profile_access_denied"
	auditEventTwoFactorSecretIssued   = "two_factor_secret_issued"
	auditEventTwoFactorEnabled        = "two_factor_enabled"
	auditEventTwoFactorDisabled       = "two_factor_disabled"
	auditEventSecondFactorSuccess     = "second_factor_success"
	auditEventSecondFactorFailure     = "second_factor_failure"
	auditEventSecondFactorRateLimited = "second_factor_rate_limited"
	auditEventBackupCodesGenerated    = "backup_codes_generated"
	auditEventStepUpRejected          = "step_up_rejected"
)

// AuditErrorCode is the stable error label carried on audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrAccountDisabled    AuditErrorCode = "account_disabled"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrInvalidCode        AuditErrorCode = "invalid_code"
	auditErrCodeExpired        AuditErrorCode = "code_expired"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrCooldown           AuditErrorCode = "cooldown"
	auditErrDeliveryFailed     AuditErrorCode = "delivery_failed"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrPermissionDenied   AuditErrorCode = "permission_denied"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrTwoFactorState     AuditErrorCode = "two_factor_state"
	auditErrReplay             AuditErrorCode = "replay"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// errReplay labels a reused TOTP step on audit events only.
var errReplay = errors.New("totp step already used")

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountNotFound):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrLoginRateLimited), errors.Is(err, ErrSecondFactorRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrEmailCodeExpired):
		return auditErrCodeExpired
	case errors.Is(err, ErrEmailCodeAttemptsExceeded):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrEmailCodeCooldown):
		return auditErrCooldown
	case errors.Is(err, ErrCodeDeliveryFailed):
		return auditErrDeliveryFailed
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrRefreshInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrPermissionDenied):
		return auditErrPermissionDenied
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrTwoFactorAlreadyEnabled),
		errors.Is(err, ErrTwoFactorNotEnabled),
		errors.Is(err, ErrTwoFactorNotConfigured),
		errors.Is(err, ErrTwoFactorSecretMismatch):
		return auditErrTwoFactorState
	case errors.Is(err, errReplay):
		return auditErrReplay
	case errors.Is(err, ErrBackendUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

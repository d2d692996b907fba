package httpapi

import (
	"time"
)

// Error codes written in the "error" field.
const (
	CodeBadRequest              = "bad_request"
	CodeUnauthorized            = "unauthorized"
	CodeInvalidCredentials      = "invalid_credentials"
	CodeAccountDisabled         = "account_disabled"
	CodeAccountLocked           = "account_locked"
	CodeAccountNotFound         = "account_not_found"
	CodeLoginRateLimited        = "login_rate_limited"
	CodePasswordPolicy          = "password_policy"
	CodeInvalidCode             = "invalid_code"
	CodeCodeExpired             = "code_expired"
	CodeCodeAttemptsExceeded    = "code_attempts_exceeded"
	CodeEmailCodeCooldown       = "email_code_cooldown"
	CodeCodeDeliveryFailed      = "code_delivery_failed"
	CodeSessionNotFound         = "session_not_found"
	CodeRefreshInvalid          = "refresh_invalid"
	CodeRefreshReused           = "refresh_reused"
	CodePermissionDenied        = "permission_denied"
	CodeTwoFactorAlreadyEnabled = "two_factor_already_enabled"
	CodeTwoFactorNotEnabled     = "two_factor_not_enabled"
	CodeTwoFactorNotConfigured  = "two_factor_not_configured"
	CodeTwoFactorSecretMismatch = "two_factor_secret_mismatch"
	CodeSecondFactorRateLimited = "second_factor_rate_limited"
	CodeStepUpRequired          = "step_up_required"
	CodeStepUpFailed            = "step_up_failed"
	CodeBackendUnavailable      = "backend_unavailable"
	CodeInternal                = "internal_error"
)

// ErrorBody is the JSON shape of every failure.
type ErrorBody struct {
	Error string `json:"error"`
	// RetryAfter is set with CodeEmailCodeCooldown, in whole seconds.
	RetryAfter int `json:"retry_after,omitempty"`
}

type PasswordSignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type EmailCodeRequest struct {
	Email string `json:"email"`
}

// EmailCodeResponse is returned for every accepted request, including ones
// for unknown addresses.
type EmailCodeResponse struct {
	ExpiresIn  int `json:"expires_in"`
	ResendWait int `json:"resend_wait"`
}

type EmailCodeVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// PasswordChangeRequest carries a second-factor code when the account has
// two-factor enabled.
type PasswordChangeRequest struct {
	NewPassword string `json:"new_password"`
	Code        string `json:"code,omitempty"`
}

// StepUpRequest is the body of two-factor management calls that need a
// fresh second-factor code.
type StepUpRequest struct {
	Code string `json:"code"`
}

type EnableTwoFactorRequest struct {
	Secret string `json:"secret"`
}

type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

type VerifySecondFactorRequest struct {
	Code string `json:"code"`
}

type VerifySecondFactorResponse struct {
	Valid bool `json:"valid"`
}

func seconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

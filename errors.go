package authflow

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown emails and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountNotFound is returned by AccountStore implementations.
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountDisabled = errors.New("account disabled")
	ErrAccountLocked   = errors.New("account locked")
	// ErrLoginRateLimited means too many failed password attempts for the email.
	ErrLoginRateLimited = errors.New("sign-in rate limited")
	ErrPasswordPolicy   = errors.New("password does not meet policy")

	// ErrInvalidCode is a wrong email code. The code stays usable until it
	// expires or the attempt cap is reached.
	ErrInvalidCode = errors.New("invalid one-time code")
	// ErrEmailCodeExpired means no live code exists for the address.
	ErrEmailCodeExpired = errors.New("one-time code expired or not issued")
	// ErrEmailCodeAttemptsExceeded means the code was burned by wrong guesses.
	ErrEmailCodeAttemptsExceeded = errors.New("one-time code attempts exceeded")
	// ErrEmailCodeCooldown is matched by *CooldownError.
	ErrEmailCodeCooldown  = errors.New("one-time code resend cooldown")
	ErrCodeDeliveryFailed = errors.New("one-time code delivery failed")

	ErrSessionNotFound = errors.New("session not found")
	ErrTokenInvalid    = errors.New("invalid token")
	ErrRefreshInvalid  = errors.New("invalid refresh token")
	// ErrRefreshReuse means a rotated-out refresh token came back; the session
	// has been revoked.
	ErrRefreshReuse = errors.New("refresh token reuse detected")

	// ErrPermissionDenied is returned when a caller touches another account.
	ErrPermissionDenied = errors.New("permission denied")

	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	ErrTwoFactorNotEnabled     = errors.New("two-factor not enabled")
	// ErrTwoFactorNotConfigured means enable was called before a secret was
	// generated.
	ErrTwoFactorNotConfigured = errors.New("two-factor secret not generated")
	// ErrTwoFactorSecretMismatch means enable named a secret other than the
	// pending one, usually a stale setup screen.
	ErrTwoFactorSecretMismatch = errors.New("two-factor secret does not match pending setup")
	ErrSecondFactorRateLimited = errors.New("second-factor attempts rate limited")
	// ErrStepUpRequired means a security change on a two-factor account came
	// without a second-factor code.
	ErrStepUpRequired = errors.New("second-factor code required")
	// ErrStepUpFailed means the step-up code did not verify.
	ErrStepUpFailed = errors.New("second-factor code rejected")

	// ErrBackendUnavailable wraps Redis and store failures.
	ErrBackendUnavailable = errors.New("authentication backend unavailable")
	ErrEngineNotReady     = errors.New("engine not initialized")
)

// CooldownError is returned when an email code is requested again inside the
// resend window.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("wait %d seconds before requesting another code", e.Seconds())
}

// Seconds rounds the remaining wait up to whole seconds.
func (e *CooldownError) Seconds() int {
	s := int((e.RetryAfter + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrEmailCodeCooldown
}

package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// Collaborator errors. IdentityProvider, ProfileStore, and SecondFactorGateway
// implementations wrap these so the orchestrator can tell a rejection from a
// transient failure. Anything else is treated as transient.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidCode        = errors.New("incorrect code")
	// ErrCodeExpired covers expired codes and codes burned by too many misses.
	ErrCodeExpired   = errors.New("code expired")
	ErrRateLimited   = errors.New("too many attempts")
	ErrNotAuthorized = errors.New("not authorized")
)

// Orchestrator errors.
var (
	ErrMissingCredentials  = errors.New("email and password required")
	ErrInvalidCodeFormat   = errors.New("code has the wrong format")
	ErrNoActiveAttempt     = errors.New("no login in progress")
	ErrInvalidState        = errors.New("operation not allowed in current state")
	ErrOperationInProgress = errors.New("another step is still running")
	ErrAttemptSuperseded   = errors.New("login attempt was cancelled or replaced")
	// ErrFlowCorrupted reports a broken internal invariant. The attempt has
	// been torn down.
	ErrFlowCorrupted          = errors.New("login flow corrupted")
	ErrProfileUnavailable     = errors.New("profile unavailable")
	ErrSecondFactorRequired   = errors.New("second factor required")
	ErrReauthenticationFailed = errors.New("re-authentication failed")
	ErrNotSignedIn            = errors.New("not signed in")

	ErrBiometricNotEnabled         = errors.New("biometric sign-in not enabled")
	ErrBiometricUnavailable        = errors.New("biometric hardware unavailable")
	ErrBiometricFailed             = errors.New("biometric challenge failed")
	ErrBiometricCredentialRejected = errors.New("stored biometric credential rejected")

	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	ErrNoPendingSetup          = errors.New("no two-factor setup in progress")
)

// CooldownError is returned when an email code resend comes too early.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("wait %d seconds before requesting another code", e.Seconds())
}

// Seconds rounds up, never below 1.
func (e *CooldownError) Seconds() int {
	s := int((e.Remaining + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

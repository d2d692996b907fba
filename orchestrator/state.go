package orchestrator

import "time"

// State is a login state.
type State int

const (
	Idle State = iota
	PasswordPending
	EmailCodePending
	SecondFactorPending
	SessionEstablished
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PasswordPending:
		return "password_pending"
	case EmailCodePending:
		return "email_code_pending"
	case SecondFactorPending:
		return "second_factor_pending"
	case SessionEstablished:
		return "session_established"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Transition is published to subscribers on every state change.
type Transition struct {
	From      State
	To        State
	AttemptID string
	// Reason is a short machine label such as "password_accepted" or "failed".
	Reason string
	Err    error
	At     time.Time
}

// EventKind discriminates session events coming from the Identity Provider.
type EventKind int

const (
	// FreshSignIn is a newly established session. It is the only kind that
	// re-evaluates the second-factor requirement.
	FreshSignIn EventKind = iota
	TokenRefresh
	ProfileUpdate
)

func (k EventKind) String() string {
	switch k {
	case FreshSignIn:
		return "fresh_sign_in"
	case TokenRefresh:
		return "token_refresh"
	case ProfileUpdate:
		return "profile_update"
	default:
		return "unknown"
	}
}

// SessionEvent is delivered to HandleSessionEvent.
type SessionEvent struct {
	Kind    EventKind
	Session *Session
	// Profile is optional on ProfileUpdate; when nil the profile is refetched.
	Profile *Profile
}

// Session is the provider session as the client sees it.
type Session struct {
	ID           string
	AccountID    string
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	// Method is how the provider established the session: "password",
	// "email_otp", or "refresh".
	Method string
}

// Profile is the owner's account view.
type Profile struct {
	AccountID            string
	Email                string
	DisplayName          string
	KYCStatus            string
	TwoFactorEnabled     bool
	BackupCodesRemaining int
	// Degraded marks a profile built from session claims after the profile
	// store could not be reached.
	Degraded bool
}

// TwoFactorSetup is shown to the user while enrolling an authenticator.
type TwoFactorSetup struct {
	Secret string
	URI    string
}

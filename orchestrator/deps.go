package orchestrator

import (
	"context"

	"github.com/MrEthical07/authflow/vault"
	"go.uber.org/zap"
)

// IdentityProvider is a stateful client for the sign-in backend. It holds at
// most one current session; sign-in calls replace it.
type IdentityProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	// SignOut ends the current session. It must forget the session locally
	// even if the backend cannot be reached.
	SignOut(ctx context.Context) error
	// RevokeSession ends s on the server and leaves the current session alone.
	RevokeSession(ctx context.Context, s *Session) error
	// GetSession returns nil, nil when there is no session.
	GetSession(ctx context.Context) (*Session, error)
	// SendEmailOneTimeCode may return *CooldownError.
	SendEmailOneTimeCode(ctx context.Context, email string) error
	VerifyEmailOneTimeCode(ctx context.Context, email, code string) (*Session, error)
	// UpdatePassword takes a step-up code, empty when the account has no
	// second factor.
	UpdatePassword(ctx context.Context, newPassword, code string) error
}

// ProfileStore reads the signed-in account's profile.
type ProfileStore interface {
	GetProfile(ctx context.Context, accountID string) (*Profile, error)
}

// SecondFactorGateway is the server-side authority for two-factor state.
// VerifySecondFactor returns false, nil for a wrong code. DisableTwoFactor
// and GenerateBackupCodes need a current TOTP or backup code.
type SecondFactorGateway interface {
	GenerateSecret(ctx context.Context, accountID string) (*TwoFactorSetup, error)
	EnableTwoFactor(ctx context.Context, accountID, secret string) ([]string, error)
	DisableTwoFactor(ctx context.Context, accountID, code string) error
	VerifySecondFactor(ctx context.Context, accountID, code string) (bool, error)
	GenerateBackupCodes(ctx context.Context, accountID, code string) ([]string, error)
}

// BiometricChallenge is the device's fingerprint or face prompt. Challenge
// returns nil only on a successful match.
type BiometricChallenge interface {
	IsAvailable(ctx context.Context) bool
	Challenge(ctx context.Context, prompt string) error
}

// InvariantReporter receives broken-invariant reports, typically forwarded to
// an error tracker.
type InvariantReporter interface {
	ReportInvariant(err error, fields map[string]string)
}

// Deps are the orchestrator's collaborators. Identity, Profiles, and
// SecondFactor are required. Biometric and Vault are both needed for the
// biometric shortcut.
type Deps struct {
	Identity     IdentityProvider
	Profiles     ProfileStore
	SecondFactor SecondFactorGateway
	Biometric    BiometricChallenge
	Vault        vault.Vault
	Logger       *zap.Logger
	Reporter     InvariantReporter
}

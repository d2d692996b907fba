package authflow

import (
	"context"
	"time"
)

// AccountStatus gates sign-in.
type AccountStatus uint8

const (
	AccountActive AccountStatus = iota
	AccountDisabled
	AccountLocked
)

func (s AccountStatus) String() string {
	switch s {
	case AccountActive:
		return "active"
	case AccountDisabled:
		return "disabled"
	case AccountLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// AccountRecord is the credential-bearing account row.
type AccountRecord struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Status       AccountStatus
	KYCStatus    string
	CreatedAt    time.Time
}

// SecurityProfile is an account's second-factor state.
//
// TwoFactorSecret is set from the first GenerateSecret until DisableTwoFactor,
// and may be set while TwoFactorEnabled is false during setup.
type SecurityProfile struct {
	TwoFactorEnabled     bool
	TwoFactorSecret      string
	LastUsedCounter      int64
	BackupCodesRemaining int
}

// BackupCodeRecord is the stored form of a backup code.
type BackupCodeRecord struct {
	Hash [32]byte
}

// AccountStore is the persistence boundary for accounts and their
// second-factor state. Implementations must make each method atomic.
type AccountStore interface {
	GetAccountByEmail(ctx context.Context, email string) (AccountRecord, error)
	GetAccountByID(ctx context.Context, accountID string) (AccountRecord, error)
	UpdatePasswordHash(ctx context.Context, accountID, hash string) error

	GetSecurityProfile(ctx context.Context, accountID string) (SecurityProfile, error)
	// SaveTwoFactorSecret replaces the pending secret. It must fail with
	// ErrTwoFactorAlreadyEnabled rather than overwrite an enabled secret.
	SaveTwoFactorSecret(ctx context.Context, accountID, secret string) error
	// EnableTwoFactor sets the enabled flag and replaces the backup-code pool
	// in one step.
	EnableTwoFactor(ctx context.Context, accountID string, codes []BackupCodeRecord) error
	// DisableTwoFactor clears flag, secret, counter, and backup codes together.
	DisableTwoFactor(ctx context.Context, accountID string) error
	// AdvanceTOTPCounter records counter as last used if it is newer than the
	// stored one and reports whether it was.
	AdvanceTOTPCounter(ctx context.Context, accountID string, counter int64) (bool, error)
	ReplaceBackupCodes(ctx context.Context, accountID string, codes []BackupCodeRecord) error
	// ConsumeBackupCode deletes the matching code and reports whether one
	// existed. Two concurrent calls with the same code must not both succeed.
	ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error)
}

// CodeSender delivers email one-time codes.
type CodeSender interface {
	SendEmailCode(ctx context.Context, email, code string) error
}

// CodeSenderFunc adapts a function to CodeSender.
type CodeSenderFunc func(ctx context.Context, email, code string) error

func (f CodeSenderFunc) SendEmailCode(ctx context.Context, email, code string) error {
	return f(ctx, email, code)
}

// Session is the token pair handed to a client after sign-in.
type Session struct {
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	SessionID       string    `json:"session_id"`
	AccountID       string    `json:"account_id"`
	Email           string    `json:"email"`
	Method          string    `json:"method"`
}

// SessionInfo describes a live session without its tokens.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	Method    string    `json:"method"`
	AMR       []string  `json:"amr,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Profile is the owner-visible account view.
type Profile struct {
	AccountID            string `json:"account_id"`
	Email                string `json:"email"`
	DisplayName          string `json:"display_name,omitempty"`
	KYCStatus            string `json:"kyc_status,omitempty"`
	TwoFactorEnabled     bool   `json:"two_factor_enabled"`
	BackupCodesRemaining int    `json:"backup_codes_remaining"`
	// Degraded marks a profile assembled from session claims because the
	// store could not be reached.
	Degraded bool `json:"degraded,omitempty"`
}

// SecretSetup is returned by GenerateSecret for authenticator enrollment.
type SecretSetup struct {
	Secret string `json:"secret"`
	URI    string `json:"otpauth_uri"`
}

// EmailCodeDispatch describes an accepted code request. It looks the same
// whether or not the address belongs to an account.
type EmailCodeDispatch struct {
	ExpiresIn  time.Duration `json:"expires_in"`
	ResendWait time.Duration `json:"resend_wait"`
}

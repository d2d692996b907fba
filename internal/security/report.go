package security

import (
	"fmt"
	"time"
)

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Report is the computed security posture of one engine.
type Report struct {
	SigningAlgorithm        string
	AccessTTL               time.Duration
	RefreshTTL              time.Duration
	Argon2                  PasswordReport
	LoginRateLimitActive    bool
	EmailCodeTTL            time.Duration
	EmailCodeAttemptCap     int
	EmailResendCooldown     time.Duration
	TOTPSkewSteps           uint
	TOTPReplayProtection    bool
	BackupCodes             int
	SecondFactorLimitActive bool
	RevokeSessionsOnChange  bool
	Warnings                []string
}

type ReportInput struct {
	SigningAlgorithm        string
	AccessTTL               time.Duration
	RefreshTTL              time.Duration
	Password                PasswordReport
	LoginMaxAttempts        int
	LoginWindow             time.Duration
	EmailCodeTTL            time.Duration
	EmailCodeMaxAttempts    int
	EmailResendCooldown     time.Duration
	TOTPSkew                uint
	EnforceReplayProtection bool
	BackupCodeCount         int
	SecondFactorMaxAttempts int
	SecondFactorWindow      time.Duration
	RevokeSessionsOnChange  bool
}

// Argon2 parameters below these produce a warning.
const (
	minArgonMemoryKiB = 19 * 1024
	maxSkewSteps      = 2
)

func BuildReport(in ReportInput) Report {
	r := Report{
		SigningAlgorithm:        in.SigningAlgorithm,
		AccessTTL:               in.AccessTTL,
		RefreshTTL:              in.RefreshTTL,
		Argon2:                  in.Password,
		LoginRateLimitActive:    in.LoginMaxAttempts > 0 && in.LoginWindow > 0,
		EmailCodeTTL:            in.EmailCodeTTL,
		EmailCodeAttemptCap:     in.EmailCodeMaxAttempts,
		EmailResendCooldown:     in.EmailResendCooldown,
		TOTPSkewSteps:           in.TOTPSkew,
		TOTPReplayProtection:    in.EnforceReplayProtection,
		BackupCodes:             in.BackupCodeCount,
		SecondFactorLimitActive: in.SecondFactorMaxAttempts > 0 && in.SecondFactorWindow > 0,
		RevokeSessionsOnChange:  in.RevokeSessionsOnChange,
	}

	if in.Password.Memory < minArgonMemoryKiB {
		r.Warnings = append(r.Warnings, fmt.Sprintf("argon2 memory %d KiB is below %d KiB", in.Password.Memory, minArgonMemoryKiB))
	}
	if in.SigningAlgorithm == "hs256" {
		r.Warnings = append(r.Warnings, "hs256 shares the signing key with every verifier")
	}
	if !r.LoginRateLimitActive {
		r.Warnings = append(r.Warnings, "password attempts are not rate limited")
	}
	if !r.SecondFactorLimitActive {
		r.Warnings = append(r.Warnings, "second-factor attempts are not rate limited")
	}
	if !r.TOTPReplayProtection {
		r.Warnings = append(r.Warnings, "TOTP codes can be replayed within their window")
	}
	if in.TOTPSkew > maxSkewSteps {
		r.Warnings = append(r.Warnings, fmt.Sprintf("TOTP skew of %d steps widens the guessing window", in.TOTPSkew))
	}
	if in.EmailCodeMaxAttempts <= 0 {
		r.Warnings = append(r.Warnings, "email codes have no attempt cap")
	}
	return r
}

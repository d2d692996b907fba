package flows

import (
	"context"
	"time"
)

// SecondFactorOutcome classifies a verification attempt.
type SecondFactorOutcome int

const (
	SecondFactorRejected SecondFactorOutcome = iota
	SecondFactorTOTP
	SecondFactorBackupCode
	SecondFactorReplay
	SecondFactorRateLimited
	SecondFactorNotEnabled
	SecondFactorUnavailable
)

// SecondFactorResult is the flow-local verification result. Err is set only
// for RateLimited and Unavailable.
type SecondFactorResult struct {
	Outcome SecondFactorOutcome
	Counter int64
	Err     error
}

// SecondFactorProfile is the slice of account state the flow needs.
type SecondFactorProfile struct {
	Enabled bool
	Secret  string
}

// SecondFactorDeps captures verification dependencies.
type SecondFactorDeps struct {
	TOTPDigits              int
	BackupCodeLength        int
	EnforceReplayProtection bool
	Now                     func() time.Time

	CheckLimit    func(ctx context.Context, accountID string) error
	RecordFailure func(ctx context.Context, accountID string) error
	ResetLimit    func(ctx context.Context, accountID string) error

	Sanitize       func(string) string
	LoadProfile    func(ctx context.Context, accountID string) (SecondFactorProfile, error)
	VerifyTOTP     func(secret, code string, t time.Time) (bool, int64)
	AdvanceCounter func(ctx context.Context, accountID string, counter int64) (bool, error)
	HashBackupCode func(accountID, code string) [32]byte
	ConsumeBackup  func(ctx context.Context, accountID string, hash [32]byte) (bool, error)
}

// RunVerifySecondFactor checks code as a TOTP or backup code by length. A
// code that matches nothing is Rejected; a missing profile is NotEnabled.
func RunVerifySecondFactor(ctx context.Context, accountID, code string, deps SecondFactorDeps) SecondFactorResult {
	if err := deps.CheckLimit(ctx, accountID); err != nil {
		return SecondFactorResult{Outcome: SecondFactorRateLimited, Err: err}
	}

	code = deps.Sanitize(code)
	if len(code) != deps.TOTPDigits && len(code) != deps.BackupCodeLength {
		return rejected(ctx, accountID, deps)
	}

	profile, err := deps.LoadProfile(ctx, accountID)
	if err != nil {
		return SecondFactorResult{Outcome: SecondFactorUnavailable, Err: err}
	}
	if !profile.Enabled || profile.Secret == "" {
		return SecondFactorResult{Outcome: SecondFactorNotEnabled}
	}

	if len(code) == deps.TOTPDigits {
		ok, counter := deps.VerifyTOTP(profile.Secret, code, deps.Now())
		if !ok {
			return rejected(ctx, accountID, deps)
		}
		if deps.EnforceReplayProtection {
			fresh, err := deps.AdvanceCounter(ctx, accountID, counter)
			if err != nil {
				return SecondFactorResult{Outcome: SecondFactorUnavailable, Err: err}
			}
			if !fresh {
				rejected(ctx, accountID, deps)
				return SecondFactorResult{Outcome: SecondFactorReplay, Counter: counter}
			}
		}
		_ = deps.ResetLimit(ctx, accountID)
		return SecondFactorResult{Outcome: SecondFactorTOTP, Counter: counter}
	}

	ok, err := deps.ConsumeBackup(ctx, accountID, deps.HashBackupCode(accountID, code))
	if err != nil {
		return SecondFactorResult{Outcome: SecondFactorUnavailable, Err: err}
	}
	if !ok {
		return rejected(ctx, accountID, deps)
	}
	_ = deps.ResetLimit(ctx, accountID)
	return SecondFactorResult{Outcome: SecondFactorBackupCode}
}

// rejected counts the failure. Reaching the limit here only affects the next
// attempt; this one is still reported as a plain rejection.
func rejected(ctx context.Context, accountID string, deps SecondFactorDeps) SecondFactorResult {
	_ = deps.RecordFailure(ctx, accountID)
	return SecondFactorResult{Outcome: SecondFactorRejected}
}

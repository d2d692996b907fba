package authflow

import "github.com/MrEthical07/authflow/internal/security"

// SecurityReport summarizes the engine's configuration and lists settings
// weaker than recommended.
type SecurityReport = security.Report

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config
	return security.BuildReport(security.ReportInput{
		SigningAlgorithm: c.JWT.SigningMethod,
		AccessTTL:        c.JWT.AccessTTL,
		RefreshTTL:       c.JWT.RefreshTTL,
		Password: security.PasswordReport{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
		},
		LoginMaxAttempts:        c.Login.MaxAttempts,
		LoginWindow:             c.Login.Window,
		EmailCodeTTL:            c.EmailCode.TTL,
		EmailCodeMaxAttempts:    c.EmailCode.MaxAttempts,
		EmailResendCooldown:     c.EmailCode.ResendCooldown,
		TOTPSkew:                c.TwoFactor.Skew,
		EnforceReplayProtection: c.TwoFactor.EnforceReplayProtection,
		BackupCodeCount:         c.TwoFactor.BackupCodeCount,
		SecondFactorMaxAttempts: c.TwoFactor.MaxAttempts,
		SecondFactorWindow:      c.TwoFactor.Window,
		RevokeSessionsOnChange:  c.TwoFactor.RevokeSessionsOnChange,
	})
}

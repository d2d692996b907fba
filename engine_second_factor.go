package authflow

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/authflow/internal/flows"
	"github.com/MrEthical07/authflow/internal/limiters"
	"github.com/MrEthical07/authflow/totp"
	"go.uber.org/zap"
)

// GenerateSecret creates a new pending TOTP secret for accountID, replacing
// any earlier pending one. Two-factor stays disabled until EnableTwoFactor.
func (e *Engine) GenerateSecret(ctx context.Context, accountID string) (*SecretSetup, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	acct, err := e.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return nil, storeErr(err)
	}
	sec, err := e.accounts.GetSecurityProfile(ctx, accountID)
	if err != nil {
		return nil, storeErr(err)
	}
	if sec.TwoFactorEnabled {
		e.emitAudit(ctx, auditEventTwoFactorSecretIssued, false, accountID, "", ErrTwoFactorAlreadyEnabled, nil)
		return nil, ErrTwoFactorAlreadyEnabled
	}

	secret, err := e.totp.NewSecret(acct.Email)
	if err != nil {
		return nil, err
	}
	if err := e.accounts.SaveTwoFactorSecret(ctx, accountID, secret.Base32); err != nil {
		return nil, storeErr(err)
	}

	e.metricInc(MetricTwoFactorSecretIssued)
	e.emitAudit(ctx, auditEventTwoFactorSecretIssued, true, accountID, "", nil, nil)
	return &SecretSetup{Secret: secret.Base32, URI: secret.URI}, nil
}

// EnableTwoFactor turns on two-factor for the pending secret and returns a
// fresh set of backup codes. The codes are not retrievable again.
func (e *Engine) EnableTwoFactor(ctx context.Context, accountID, secret string) ([]string, error) {
	if e == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	sec, err := e.accounts.GetSecurityProfile(ctx, accountID)
	if err != nil {
		return nil, storeErr(err)
	}
	if sec.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if sec.TwoFactorSecret == "" {
		return nil, ErrTwoFactorNotConfigured
	}
	if subtle.ConstantTimeCompare([]byte(sec.TwoFactorSecret), []byte(secret)) != 1 {
		e.emitAudit(ctx, auditEventTwoFactorEnabled, false, accountID, "", ErrTwoFactorSecretMismatch, nil)
		return nil, ErrTwoFactorSecretMismatch
	}

	codes, records, err := e.newBackupCodes(accountID)
	if err != nil {
		return nil, err
	}
	if err := e.accounts.EnableTwoFactor(ctx, accountID, records); err != nil {
		return nil, storeErr(err)
	}

	if e.config.TwoFactor.RevokeSessionsOnChange {
		e.revokeOtherSessions(ctx, accountID, sessionIDFromContext(ctx))
	}
	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, accountID, "", nil, nil)
	return codes, nil
}

// DisableTwoFactor clears the secret, replay counter, and backup codes.
// code is a current TOTP or unused backup code; a session alone is not
// enough.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID, code string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	sec, err := e.accounts.GetSecurityProfile(ctx, accountID)
	if err != nil {
		return storeErr(err)
	}
	if !sec.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}
	if err := e.stepUp(ctx, accountID, code, "disable_two_factor"); err != nil {
		return err
	}
	if err := e.accounts.DisableTwoFactor(ctx, accountID); err != nil {
		return storeErr(err)
	}
	_ = e.secondFactorLimiter.Reset(ctx, accountID)

	if e.config.TwoFactor.RevokeSessionsOnChange {
		e.revokeOtherSessions(ctx, accountID, sessionIDFromContext(ctx))
	}
	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, accountID, "", nil, nil)
	return nil
}

// VerifySecondFactor checks a 6-digit TOTP code or an 8-digit backup code.
// Wrong codes, unknown accounts, and accounts without two-factor all return
// (false, nil). Errors are reserved for rate limiting and backend failures.
func (e *Engine) VerifySecondFactor(ctx context.Context, accountID, code string) (bool, error) {
	if e == nil || e.totp == nil {
		return false, ErrEngineNotReady
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricVerifyLatency, time.Since(start)) }()

	res := flows.RunVerifySecondFactor(ctx, accountID, code, e.secondFactorDeps())

	switch res.Outcome {
	case flows.SecondFactorTOTP:
		e.metricInc(MetricTOTPSuccess)
		e.emitAudit(ctx, auditEventSecondFactorSuccess, true, accountID, "", nil, kindMeta("totp"))
		return true, nil
	case flows.SecondFactorBackupCode:
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventSecondFactorSuccess, true, accountID, "", nil, kindMeta("backup_code"))
		return true, nil
	case flows.SecondFactorReplay:
		e.metricInc(MetricTOTPReplay)
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, accountID, "", errReplay, kindMeta("totp"))
		return false, nil
	case flows.SecondFactorRejected:
		if totp.IsBackupCode(totp.SanitizeDigits(code)) {
			e.metricInc(MetricBackupCodeFailed)
		} else {
			e.metricInc(MetricTOTPFailure)
		}
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, accountID, "", ErrInvalidCode, nil)
		return false, nil
	case flows.SecondFactorNotEnabled:
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, accountID, "", ErrTwoFactorNotEnabled, nil)
		return false, nil
	case flows.SecondFactorRateLimited:
		if errors.Is(res.Err, limiters.ErrLimited) {
			e.metricInc(MetricSecondFactorRateLimited)
			e.emitAudit(ctx, auditEventSecondFactorRateLimited, false, accountID, "", ErrSecondFactorRateLimited, nil)
			return false, ErrSecondFactorRateLimited
		}
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, res.Err)
	default:
		e.log.Warn("second factor backend failure", zap.String("account_id", accountID), zap.Error(res.Err))
		return false, storeErr(res.Err)
	}
}

func (e *Engine) secondFactorDeps() flows.SecondFactorDeps {
	return flows.SecondFactorDeps{
		TOTPDigits:              e.totp.Digits(),
		BackupCodeLength:        e.config.TwoFactor.BackupCodeLength,
		EnforceReplayProtection: e.config.TwoFactor.EnforceReplayProtection,
		Now:                     e.now,
		CheckLimit:              e.secondFactorLimiter.Check,
		RecordFailure:           e.secondFactorLimiter.RecordFailure,
		ResetLimit:              e.secondFactorLimiter.Reset,
		Sanitize:                totp.SanitizeDigits,
		LoadProfile: func(ctx context.Context, accountID string) (flows.SecondFactorProfile, error) {
			sec, err := e.accounts.GetSecurityProfile(ctx, accountID)
			if err != nil {
				if errors.Is(err, ErrAccountNotFound) {
					return flows.SecondFactorProfile{}, nil
				}
				return flows.SecondFactorProfile{}, err
			}
			return flows.SecondFactorProfile{Enabled: sec.TwoFactorEnabled, Secret: sec.TwoFactorSecret}, nil
		},
		VerifyTOTP:     e.totp.VerifyAt,
		AdvanceCounter: e.accounts.AdvanceTOTPCounter,
		HashBackupCode: hashBackupCode,
		ConsumeBackup:  e.accounts.ConsumeBackupCode,
	}
}

// GenerateBackupCodes replaces the whole backup-code pool after a step-up
// with code. Earlier codes stop working immediately; a backup code used for
// the step-up is spent either way.
func (e *Engine) GenerateBackupCodes(ctx context.Context, accountID, code string) ([]string, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	sec, err := e.accounts.GetSecurityProfile(ctx, accountID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !sec.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}
	if err := e.stepUp(ctx, accountID, code, "regenerate_backup_codes"); err != nil {
		return nil, err
	}
	codes, records, err := e.newBackupCodes(accountID)
	if err != nil {
		return nil, err
	}
	if err := e.accounts.ReplaceBackupCodes(ctx, accountID, records); err != nil {
		return nil, storeErr(err)
	}
	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(codes))}
	})
	return codes, nil
}

// stepUp verifies code before a security change on a two-factor account.
// Sessions carry no proof of the second factor (the login flow ends on a
// fresh password sign-in), so every such change re-proves it.
func (e *Engine) stepUp(ctx context.Context, accountID, code, op string) error {
	opMeta := func() map[string]string { return map[string]string{"operation": op} }
	if totp.SanitizeDigits(code) == "" {
		e.emitAudit(ctx, auditEventStepUpRejected, false, accountID, sessionIDFromContext(ctx), ErrStepUpRequired, opMeta)
		return ErrStepUpRequired
	}
	ok, err := e.VerifySecondFactor(ctx, accountID, code)
	if err != nil {
		return err
	}
	if !ok {
		e.emitAudit(ctx, auditEventStepUpRejected, false, accountID, sessionIDFromContext(ctx), ErrStepUpFailed, opMeta)
		return ErrStepUpFailed
	}
	return nil
}

func (e *Engine) newBackupCodes(accountID string) ([]string, []BackupCodeRecord, error) {
	codes, err := totp.GenerateBackupCodesN(e.config.TwoFactor.BackupCodeCount, e.config.TwoFactor.BackupCodeLength)
	if err != nil {
		return nil, nil, err
	}
	records := make([]BackupCodeRecord, len(codes))
	for i, c := range codes {
		records[i] = BackupCodeRecord{Hash: hashBackupCode(accountID, c)}
	}
	return codes, records, nil
}

// hashBackupCode binds a backup code to its account so equal codes on two
// accounts hash differently.
func hashBackupCode(accountID, code string) [32]byte {
	return sha256.Sum256([]byte(accountID + "\x00" + code))
}

func kindMeta(kind string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"factor": kind}
	}
}

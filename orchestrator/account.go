package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/authflow/totp"
	"go.uber.org/zap"
)

// established snapshots the signed-in account. gen detects a sign-out or new
// attempt while a call is in flight.
func (o *Orchestrator) established() (Session, uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != SessionEstablished || o.session == nil {
		return Session{}, 0, ErrNotSignedIn
	}
	return *o.session, o.gen, nil
}

// updateProfile applies fn to the cached profile if gen still holds.
func (o *Orchestrator) updateProfile(gen uint64, fn func(p *Profile)) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen || o.profile == nil {
		return false
	}
	fn(o.profile)
	return true
}

// RefreshProfile fetches the profile again. On failure the cached profile
// is kept.
func (o *Orchestrator) RefreshProfile(ctx context.Context) (*Profile, error) {
	s, gen, err := o.established()
	if err != nil {
		return nil, err
	}
	p, err := o.fetchProfile(ctx, s.AccountID)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return nil, ErrAttemptSuperseded
	}
	cp := *p
	o.profile = &cp
	return p, nil
}

// BeginTwoFactorSetup asks the gateway for a new secret. Two-factor stays
// off until ConfirmTwoFactorSetup succeeds.
func (o *Orchestrator) BeginTwoFactorSetup(ctx context.Context) (*TwoFactorSetup, error) {
	s, gen, err := o.established()
	if err != nil {
		return nil, err
	}
	if p, ok := o.Profile(); ok && p.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	setup, err := o.gateway.GenerateSecret(ctx, s.AccountID)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return nil, ErrAttemptSuperseded
	}
	cp := *setup
	o.pendingTOTP = &cp
	return setup, nil
}

// ConfirmTwoFactorSetup checks code against the pending secret locally, then
// enables two-factor and returns the new backup codes.
func (o *Orchestrator) ConfirmTwoFactorSetup(ctx context.Context, code string) ([]string, error) {
	s, gen, err := o.established()
	if err != nil {
		return nil, err
	}
	code = totp.SanitizeDigits(code)
	if len(code) != totpCodeLength {
		return nil, ErrInvalidCodeFormat
	}
	o.mu.Lock()
	pending := o.pendingTOTP
	o.mu.Unlock()
	if pending == nil {
		return nil, ErrNoPendingSetup
	}
	if !o.totp.Verify(pending.Secret, code) {
		return nil, ErrInvalidCode
	}

	codes, err := o.gateway.EnableTwoFactor(ctx, s.AccountID, pending.Secret)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	if o.gen == gen {
		o.pendingTOTP = nil
	}
	o.mu.Unlock()
	o.updateProfile(gen, func(p *Profile) {
		p.TwoFactorEnabled = true
		p.BackupCodesRemaining = len(codes)
	})
	o.log.Info("two-factor enabled", zap.String("account_id", s.AccountID))
	return codes, nil
}

// stepUpCode normalizes a TOTP or backup code sent with a security change.
func stepUpCode(code string) (string, error) {
	code = totp.SanitizeDigits(code)
	if len(code) != totpCodeLength && len(code) != backupCodeLength {
		return "", ErrInvalidCodeFormat
	}
	return code, nil
}

// DisableTwoFactor turns two-factor off. code is a current TOTP or an unused
// backup code.
func (o *Orchestrator) DisableTwoFactor(ctx context.Context, code string) error {
	s, gen, err := o.established()
	if err != nil {
		return err
	}
	code, err = stepUpCode(code)
	if err != nil {
		return err
	}
	if err := o.gateway.DisableTwoFactor(ctx, s.AccountID, code); err != nil {
		return err
	}
	o.updateProfile(gen, func(p *Profile) {
		p.TwoFactorEnabled = false
		p.BackupCodesRemaining = 0
	})
	o.log.Info("two-factor disabled", zap.String("account_id", s.AccountID))
	return nil
}

// RegenerateBackupCodes replaces the whole backup code pool. code is checked
// the same way as for DisableTwoFactor.
func (o *Orchestrator) RegenerateBackupCodes(ctx context.Context, code string) ([]string, error) {
	s, gen, err := o.established()
	if err != nil {
		return nil, err
	}
	code, err = stepUpCode(code)
	if err != nil {
		return nil, err
	}
	codes, err := o.gateway.GenerateBackupCodes(ctx, s.AccountID, code)
	if err != nil {
		return nil, err
	}
	o.updateProfile(gen, func(p *Profile) { p.BackupCodesRemaining = len(codes) })
	return codes, nil
}

// ChangePassword updates the provider password. A stored biometric
// credential for the same email is rewritten so it keeps working. code may
// be empty only for accounts without two-factor; the provider rejects the
// change otherwise.
func (o *Orchestrator) ChangePassword(ctx context.Context, newPassword, code string) error {
	s, _, err := o.established()
	if err != nil {
		return err
	}
	if newPassword == "" {
		return ErrMissingCredentials
	}
	if code != "" {
		if code, err = stepUpCode(code); err != nil {
			return err
		}
	}
	if err := o.identity.UpdatePassword(ctx, newPassword, code); err != nil {
		return err
	}
	if !o.BiometricEnabled() {
		return nil
	}
	cred, err := o.bio.Load()
	if err != nil || !strings.EqualFold(cred.Email, s.Email) {
		return nil
	}
	cred.Password = newPassword
	if err := o.bio.Enable(cred); err != nil {
		return errors.Join(errors.New("orchestrator: password changed but biometric credential not updated"), err)
	}
	return nil
}

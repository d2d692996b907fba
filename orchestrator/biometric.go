package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/authflow/vault"
	"go.uber.org/zap"
)

// BiometricEnabled reports whether a usable credential is stored.
func (o *Orchestrator) BiometricEnabled() bool {
	if o.bio == nil {
		return false
	}
	ok, err := o.bio.Enabled()
	if err != nil {
		o.log.Warn("biometric state unreadable", zap.Error(err))
		return false
	}
	return ok
}

// SignInWithBiometric replays the stored credential after a successful device
// challenge. A failed or cancelled challenge changes nothing. By default the
// result is an established session without email code or second factor; see
// Config.BiometricRequiresEmailCode and BiometricRequiresSecondFactor.
func (o *Orchestrator) SignInWithBiometric(ctx context.Context) (State, error) {
	if !o.BiometricEnabled() {
		return o.State(), ErrBiometricNotEnabled
	}
	if o.biometric == nil || !o.biometric.IsAvailable(ctx) {
		return o.State(), ErrBiometricUnavailable
	}
	if err := o.biometric.Challenge(ctx, o.cfg.BiometricPrompt); err != nil {
		return o.State(), errors.Join(ErrBiometricFailed, err)
	}
	cred, err := o.bio.Load()
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return o.State(), ErrBiometricNotEnabled
		}
		return o.State(), err
	}

	o.teardownMu.Lock()
	a := newAttempt(cred.Email, cred.Password, true)
	o.start(ctx, a)
	o.teardownMu.Unlock()
	defer o.leave(a)

	o.log.Info("biometric login started", zap.String("attempt", a.id.String()))
	if err := o.checkPassword(ctx, a); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			// The stored password is stale; never replay it again.
			if derr := o.bio.Disable(); derr != nil {
				o.log.Warn("biometric credential not cleared", zap.Error(derr))
			}
			return o.State(), errors.Join(ErrBiometricCredentialRejected, err)
		}
		return o.State(), err
	}

	if o.cfg.BiometricRequiresEmailCode {
		if err := o.dropImplicitSession(ctx, a); err != nil {
			return o.State(), err
		}
		if err := o.requestEmailCode(ctx, a); err != nil {
			return o.State(), err
		}
		return o.State(), nil
	}

	o.mu.Lock()
	sess := a.session
	o.mu.Unlock()
	return o.decideSecondFactor(ctx, a, sess)
}

// EnableBiometric stores email and password for biometric sign-in. It needs
// an established session for the same email, a passing device challenge, and
// a password the provider accepts.
func (o *Orchestrator) EnableBiometric(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return ErrMissingCredentials
	}
	if o.bio == nil || o.biometric == nil || !o.biometric.IsAvailable(ctx) {
		return ErrBiometricUnavailable
	}

	o.teardownMu.Lock()
	defer o.teardownMu.Unlock()

	o.mu.Lock()
	if o.state != SessionEstablished || o.session == nil {
		o.mu.Unlock()
		return ErrNotSignedIn
	}
	current := *o.session
	o.mu.Unlock()
	if !strings.EqualFold(current.Email, email) {
		return ErrNotAuthorized
	}

	if err := o.biometric.Challenge(ctx, o.cfg.BiometricPrompt); err != nil {
		return errors.Join(ErrBiometricFailed, err)
	}
	// The provider copy carries the newest access token.
	old, err := o.identity.GetSession(ctx)
	if err != nil {
		return err
	}

	sess, err := o.signInAsSelf(func() (*Session, error) {
		return o.identity.SignInWithPassword(ctx, email, password)
	})
	if err != nil {
		return err
	}
	if sess == nil || sess.AccountID != current.AccountID {
		o.log.Error("password check returned a different account", zap.String("account_id", current.AccountID))
		return ErrNotAuthorized
	}

	// The check replaced the provider's current session.
	o.mu.Lock()
	if o.state == SessionEstablished {
		o.session = sess
	}
	o.mu.Unlock()
	if old != nil && old.ID != sess.ID {
		if err := o.identity.RevokeSession(context.WithoutCancel(ctx), old); err != nil {
			o.log.Warn("replaced session not revoked", zap.String("session_id", old.ID), zap.Error(err))
		}
	}

	return o.bio.Enable(vault.Credential{Email: email, Password: password})
}

// DisableBiometric removes the stored credential. It needs no session.
func (o *Orchestrator) DisableBiometric() error {
	if o.bio == nil {
		return nil
	}
	return o.bio.Disable()
}

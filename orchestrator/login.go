package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/authflow/totp"
	"go.uber.org/zap"
)

const (
	emailCodeLength  = 6
	totpCodeLength   = 6
	backupCodeLength = 8
)

// SubmitPassword starts a new login attempt, replacing any current one. On
// success the attempt waits in EmailCodePending with a code on its way.
func (o *Orchestrator) SubmitPassword(ctx context.Context, email, password string) (State, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return o.State(), ErrMissingCredentials
	}

	o.teardownMu.Lock()
	a := newAttempt(email, password, false)
	o.start(ctx, a)
	o.teardownMu.Unlock()
	defer o.leave(a)

	o.log.Info("login attempt started", zap.String("attempt", a.id.String()))
	if err := o.checkPassword(ctx, a); err != nil {
		return o.State(), err
	}
	if err := o.dropImplicitSession(ctx, a); err != nil {
		return o.State(), err
	}
	if err := o.requestEmailCode(ctx, a); err != nil {
		return o.State(), err
	}
	return o.State(), nil
}

// checkPassword runs the primary credential check for a.
func (o *Orchestrator) checkPassword(ctx context.Context, a *attempt) error {
	sess, err := o.signInAsSelf(func() (*Session, error) {
		return o.identity.SignInWithPassword(a.ctx, a.email, a.password())
	})
	if !o.live(a) {
		return ErrAttemptSuperseded
	}
	if err != nil {
		return o.fail(ctx, a, "password_rejected", err)
	}
	if sess == nil || sess.AccountID == "" {
		return o.violation(ctx, a, "provider accepted password without a session")
	}
	o.mu.Lock()
	a.accountID = sess.AccountID
	a.session = sess
	o.mu.Unlock()
	return nil
}

// dropImplicitSession signs out the session the password check created, so
// nothing protected is reachable before every factor is done.
func (o *Orchestrator) dropImplicitSession(ctx context.Context, a *attempt) error {
	if err := o.identity.SignOut(a.ctx); err != nil {
		if !o.live(a) {
			return ErrAttemptSuperseded
		}
		return o.fail(ctx, a, "implicit_session_not_cleared", err)
	}
	o.mu.Lock()
	a.session = nil
	o.mu.Unlock()
	if !o.live(a) {
		return ErrAttemptSuperseded
	}
	return nil
}

// requestEmailCode sends the first code and moves to EmailCodePending. A
// cooldown reported by the provider is adopted, since a recent code is
// already on its way.
func (o *Orchestrator) requestEmailCode(ctx context.Context, a *attempt) error {
	err := o.identity.SendEmailOneTimeCode(a.ctx, a.email)
	var cd *CooldownError
	if err != nil && !errors.As(err, &cd) {
		if !o.live(a) {
			return ErrAttemptSuperseded
		}
		return o.fail(ctx, a, "email_code_not_sent", err)
	}

	window := o.cfg.ResendCooldown
	if cd != nil {
		window = cd.Remaining
	}

	o.mu.Lock()
	if !o.liveLocked(a) {
		o.mu.Unlock()
		return ErrAttemptSuperseded
	}
	prev := a.cooldown
	a.cooldown = startCooldown(o.cfg.Now(), window, o.cfg.CooldownTick)
	tr := o.setState(EmailCodePending, "password_accepted", nil)
	o.mu.Unlock()
	prev.stop()
	o.publish(tr)
	return nil
}

// ResendEmailCode asks for another code. Inside the cooldown window it
// returns *CooldownError without contacting the provider.
func (o *Orchestrator) ResendEmailCode(ctx context.Context) error {
	a, err := o.enter(EmailCodePending)
	if err != nil {
		return err
	}
	defer o.leave(a)

	o.mu.Lock()
	prev := a.cooldown
	left := prev.remaining(o.cfg.Now())
	o.mu.Unlock()
	if left > 0 {
		return &CooldownError{Remaining: left}
	}
	prev.stop()

	err = o.identity.SendEmailOneTimeCode(a.ctx, a.email)
	var cd *CooldownError
	switch {
	case err == nil:
	case errors.As(err, &cd):
	default:
		if !o.live(a) {
			return ErrAttemptSuperseded
		}
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.liveLocked(a) {
		return ErrAttemptSuperseded
	}
	window := o.cfg.ResendCooldown
	if cd != nil {
		window = cd.Remaining
	}
	a.cooldown = startCooldown(o.cfg.Now(), window, o.cfg.CooldownTick)
	if cd != nil {
		return cd
	}
	return nil
}

// SubmitEmailCode verifies the emailed code. A wrong code leaves the attempt
// where it is; an expired or burned code ends it.
func (o *Orchestrator) SubmitEmailCode(ctx context.Context, code string) (State, error) {
	code = totp.SanitizeDigits(code)
	a, err := o.enter(EmailCodePending)
	if err != nil {
		return o.State(), err
	}
	defer o.leave(a)

	if len(code) != emailCodeLength {
		return o.State(), ErrInvalidCodeFormat
	}

	sess, err := o.signInAsSelf(func() (*Session, error) {
		return o.identity.VerifyEmailOneTimeCode(a.ctx, a.email, code)
	})
	if !o.live(a) {
		return o.State(), ErrAttemptSuperseded
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidCode):
		return o.State(), ErrInvalidCode
	case errors.Is(err, ErrCodeExpired), errors.Is(err, ErrInvalidCredentials):
		return o.State(), o.fail(ctx, a, "email_code_rejected", err)
	default:
		// transient: keep the attempt so the user can retry
		return o.State(), err
	}
	if sess == nil || sess.AccountID == "" {
		return o.State(), o.violation(ctx, a, "email code accepted without a session")
	}
	if sess.AccountID != a.accountID {
		return o.State(), o.violation(ctx, a, "email code session belongs to another account")
	}

	o.mu.Lock()
	a.session = sess
	o.mu.Unlock()
	a.stopCooldown()

	return o.decideSecondFactor(ctx, a, sess)
}

// decideSecondFactor routes a session that has passed the email step. The
// biometric shortcut skips the prompt unless configured otherwise.
func (o *Orchestrator) decideSecondFactor(ctx context.Context, a *attempt, sess *Session) (State, error) {
	if a.biometric && !o.cfg.BiometricRequiresSecondFactor {
		return o.complete(ctx, a, sess, nil, "biometric_accepted")
	}

	p, err := o.fetchProfile(a.ctx, sess.AccountID)
	if !o.live(a) {
		return o.State(), ErrAttemptSuperseded
	}
	if err != nil {
		// The two-factor requirement cannot be known; fail closed.
		return o.State(), o.fail(ctx, a, "profile_unavailable", err)
	}
	if !p.TwoFactorEnabled {
		return o.complete(ctx, a, sess, p, "email_code_accepted")
	}

	o.mu.Lock()
	if !o.liveLocked(a) {
		o.mu.Unlock()
		return o.State(), ErrAttemptSuperseded
	}
	a.awaitingSecondFactor = true
	tr := o.setState(SecondFactorPending, "second_factor_required", nil)
	o.mu.Unlock()
	o.publish(tr)
	return SecondFactorPending, nil
}

// SubmitSecondFactor checks a 6-digit TOTP code or an 8-digit backup code,
// then re-authenticates with the retained password. A wrong code leaves the
// attempt in SecondFactorPending with the password intact. If the code was
// right but re-authentication failed transiently, calling again with any
// well-formed code retries only the re-authentication.
func (o *Orchestrator) SubmitSecondFactor(ctx context.Context, code string) (State, error) {
	code = totp.SanitizeDigits(code)
	a, err := o.enter(SecondFactorPending)
	if err != nil {
		return o.State(), err
	}
	defer o.leave(a)

	if !a.awaitingSecondFactor || !a.hasPassword() || a.accountID == "" {
		return o.State(), o.violation(ctx, a, "second factor step without retained credentials")
	}
	if len(code) != totpCodeLength && len(code) != backupCodeLength {
		return o.State(), ErrInvalidCodeFormat
	}

	if !a.secondFactorVerified {
		ok, err := o.gateway.VerifySecondFactor(a.ctx, a.accountID, code)
		if !o.live(a) {
			return o.State(), ErrAttemptSuperseded
		}
		if err != nil {
			return o.State(), err
		}
		if !ok {
			return o.State(), ErrInvalidCode
		}
		o.mu.Lock()
		a.secondFactorVerified = true
		o.mu.Unlock()
	}

	return o.reauthenticate(ctx, a)
}

// reauthenticate replaces the interim session with a fresh password sign-in
// and wipes the retained password.
func (o *Orchestrator) reauthenticate(ctx context.Context, a *attempt) (State, error) {
	if err := o.identity.SignOut(a.ctx); err != nil && o.live(a) {
		o.log.Warn("interim session sign-out failed", zap.String("attempt", a.id.String()), zap.Error(err))
	}
	sess, err := o.signInAsSelf(func() (*Session, error) {
		return o.identity.SignInWithPassword(a.ctx, a.email, a.password())
	})
	if !o.live(a) {
		return o.State(), ErrAttemptSuperseded
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidCredentials):
		// Password changed since step one.
		return o.State(), o.fail(ctx, a, "reauthentication_rejected", err)
	default:
		return o.State(), errors.Join(ErrReauthenticationFailed, err)
	}
	if sess == nil || sess.AccountID != a.accountID {
		return o.State(), o.violation(ctx, a, "re-authentication returned a different account")
	}

	o.mu.Lock()
	a.wipePassword()
	a.session = sess
	o.mu.Unlock()

	return o.complete(ctx, a, sess, nil, "second_factor_accepted")
}

// complete finishes attempt a with sess. If p is nil the profile is fetched,
// falling back to session claims.
func (o *Orchestrator) complete(ctx context.Context, a *attempt, sess *Session, p *Profile, reason string) (State, error) {
	if p == nil {
		p = o.profileOrClaims(a.ctx, sess)
	}

	o.mu.Lock()
	if !o.liveLocked(a) {
		o.mu.Unlock()
		return o.State(), ErrAttemptSuperseded
	}
	tr := o.setState(SessionEstablished, reason, nil)
	o.att = nil
	o.session = sess
	o.profile = p
	o.gen++
	o.mu.Unlock()

	a.dispose()
	o.publish(tr)
	o.log.Info("session established",
		zap.String("attempt", a.id.String()),
		zap.String("account_id", sess.AccountID),
		zap.Bool("degraded_profile", p.Degraded),
	)
	return SessionEstablished, nil
}

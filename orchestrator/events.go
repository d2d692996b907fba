package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// HandleSessionEvent reacts to provider session notifications. Only a
// FreshSignIn that the orchestrator did not initiate re-checks the second
// factor; refreshes and profile updates only update cached data.
func (o *Orchestrator) HandleSessionEvent(ctx context.Context, ev SessionEvent) error {
	switch ev.Kind {
	case TokenRefresh:
		o.applyTokenRefresh(ev.Session)
		return nil
	case ProfileUpdate:
		return o.applyProfileUpdate(ctx, ev.Profile)
	case FreshSignIn:
		return o.reviewFreshSignIn(ctx, ev.Session)
	default:
		return fmt.Errorf("orchestrator: unknown session event %d", ev.Kind)
	}
}

func (o *Orchestrator) applyTokenRefresh(s *Session) {
	if s == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil && o.session.ID == s.ID {
		cp := *s
		o.session = &cp
		return
	}
	if o.att != nil && o.att.session != nil && o.att.session.ID == s.ID {
		cp := *s
		o.att.session = &cp
	}
}

func (o *Orchestrator) applyProfileUpdate(ctx context.Context, p *Profile) error {
	if p == nil {
		if o.State() != SessionEstablished {
			return nil
		}
		_, err := o.RefreshProfile(ctx)
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == SessionEstablished && o.session != nil && o.session.AccountID == p.AccountID {
		cp := *p
		o.profile = &cp
	}
	return nil
}

// reviewFreshSignIn decides whether a sign-in made outside the orchestrator
// may stand. Sessions for two-factor accounts are signed out.
func (o *Orchestrator) reviewFreshSignIn(ctx context.Context, s *Session) error {
	if s == nil || s.AccountID == "" {
		return nil
	}
	if o.ownSignIns.Load() > 0 {
		return nil
	}

	o.teardownMu.Lock()
	defer o.teardownMu.Unlock()

	o.mu.Lock()
	ignore := o.att != nil ||
		(o.state != Idle && o.state != SessionEstablished) ||
		(o.session != nil && o.session.ID == s.ID)
	o.mu.Unlock()
	if ignore {
		return nil
	}

	p, err := o.fetchProfile(ctx, s.AccountID)
	if err != nil {
		o.log.Warn("external sign-in rejected: profile unavailable", zap.String("account_id", s.AccountID), zap.Error(err))
		o.dropExternal(ctx, "external_profile_unavailable")
		return err
	}
	if p.TwoFactorEnabled {
		o.log.Info("external sign-in rejected: second factor required", zap.String("account_id", s.AccountID))
		o.dropExternal(ctx, "external_second_factor_required")
		return ErrSecondFactorRequired
	}

	o.mu.Lock()
	if o.att != nil {
		o.mu.Unlock()
		return nil
	}
	sc, pc := *s, *p
	o.session = &sc
	o.profile = &pc
	o.gen++
	tr := o.setState(SessionEstablished, "external_sign_in", nil)
	o.mu.Unlock()
	o.publish(tr)
	return nil
}

// dropExternal signs out the provider's session and returns to Idle.
// teardownMu must be held.
func (o *Orchestrator) dropExternal(ctx context.Context, reason string) {
	_ = o.signOutQuietly(ctx, reason)
	o.mu.Lock()
	idle := o.state == Idle && o.att == nil && o.session == nil
	o.mu.Unlock()
	if !idle {
		_ = o.teardown(ctx, false, reason)
	}
}

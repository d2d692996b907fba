package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authflow/totp"
	"github.com/MrEthical07/authflow/vault"
	"go.uber.org/zap"
)

// Orchestrator is safe for concurrent use, but it runs one login attempt at
// a time.
type Orchestrator struct {
	cfg       Config
	identity  IdentityProvider
	profiles  ProfileStore
	gateway   SecondFactorGateway
	biometric BiometricChallenge
	bio       *vault.BiometricStore
	reporter  InvariantReporter
	totp      *totp.Engine
	log       *zap.Logger

	// teardownMu serializes attempt start, Cancel, and SignOut so a late
	// teardown can never sign out a newer attempt's session.
	teardownMu sync.Mutex

	mu          sync.Mutex
	state       State
	att         *attempt
	session     *Session
	profile     *Profile
	pendingTOTP *TwoFactorSetup
	// gen changes on every attempt start, teardown, and completion.
	gen uint64

	// ownSignIns counts provider sign-ins the orchestrator itself is making.
	// FreshSignIn events arriving meanwhile are its own.
	ownSignIns atomic.Int32

	subMu   sync.RWMutex
	subs    map[int]func(Transition)
	nextSub int
}

// New validates cfg and wires deps.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Identity == nil || deps.Profiles == nil || deps.SecondFactor == nil {
		return nil, errors.New("orchestrator: identity, profiles, and second factor are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BiometricPrompt == "" {
		cfg.BiometricPrompt = DefaultConfig().BiometricPrompt
	}

	tcfg := cfg.TOTP
	tcfg.Now = cfg.Now
	te, err := totp.New(tcfg)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	o := &Orchestrator{
		cfg:       cfg,
		identity:  deps.Identity,
		profiles:  deps.Profiles,
		gateway:   deps.SecondFactor,
		biometric: deps.Biometric,
		reporter:  deps.Reporter,
		totp:      te,
		log:       log.Named("orchestrator"),
		subs:      map[int]func(Transition){},
	}
	if deps.Vault != nil {
		o.bio = vault.NewBiometricStore(deps.Vault)
	}
	return o, nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Session returns the established session. Interim sessions held during a
// login attempt are never returned.
func (o *Orchestrator) Session() (*Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != SessionEstablished || o.session == nil {
		return nil, false
	}
	s := *o.session
	return &s, true
}

func (o *Orchestrator) Profile() (*Profile, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != SessionEstablished || o.profile == nil {
		return nil, false
	}
	p := *o.profile
	return &p, true
}

// CooldownRemaining is the advisory wait before ResendEmailCode will send.
func (o *Orchestrator) CooldownRemaining() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.att == nil {
		return 0
	}
	return o.att.cooldown.remaining(o.cfg.Now())
}

// Subscribe registers fn for transitions. fn runs synchronously on the
// goroutine that caused the transition, after internal locks are released.
func (o *Orchestrator) Subscribe(fn func(Transition)) (unsubscribe func()) {
	o.subMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	o.subMu.Unlock()
	return func() {
		o.subMu.Lock()
		delete(o.subs, id)
		o.subMu.Unlock()
	}
}

// setState must be called with mu held. The returned transition is published
// once mu is released.
func (o *Orchestrator) setState(to State, reason string, err error) Transition {
	tr := Transition{From: o.state, To: to, Reason: reason, Err: err, At: o.cfg.Now()}
	if o.att != nil {
		tr.AttemptID = o.att.id.String()
	}
	o.state = to
	return tr
}

func (o *Orchestrator) publish(trs ...Transition) {
	if len(trs) == 0 {
		return
	}
	o.subMu.RLock()
	fns := make([]func(Transition), 0, len(o.subs))
	for _, fn := range o.subs {
		fns = append(fns, fn)
	}
	o.subMu.RUnlock()

	for _, tr := range trs {
		o.log.Debug("transition",
			zap.Stringer("from", tr.From),
			zap.Stringer("to", tr.To),
			zap.String("attempt", tr.AttemptID),
			zap.String("reason", tr.Reason),
			zap.Error(tr.Err),
		)
		for _, fn := range fns {
			fn(tr)
		}
	}
}

// enter claims the live attempt for one step.
func (o *Orchestrator) enter(want ...State) (*attempt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a := o.att
	if a == nil {
		return nil, ErrNoActiveAttempt
	}
	if !slices.Contains(want, o.state) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, o.state)
	}
	if a.busy {
		return nil, ErrOperationInProgress
	}
	a.busy = true
	a.inflight.Add(1)
	return a, nil
}

func (o *Orchestrator) leave(a *attempt) {
	o.mu.Lock()
	a.busy = false
	o.mu.Unlock()
	a.inflight.Done()
}

// liveLocked reports whether a is still the current, uncancelled attempt.
func (o *Orchestrator) liveLocked(a *attempt) bool {
	return o.att == a && a.ctx.Err() == nil
}

func (o *Orchestrator) live(a *attempt) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.liveLocked(a)
}

// signInAsSelf wraps a provider sign-in the orchestrator initiated.
func (o *Orchestrator) signInAsSelf(fn func() (*Session, error)) (*Session, error) {
	o.ownSignIns.Add(1)
	defer o.ownSignIns.Add(-1)
	return fn()
}

// signOutQuietly ends the provider session, ignoring cancellation of ctx.
func (o *Orchestrator) signOutQuietly(ctx context.Context, why string) error {
	err := o.identity.SignOut(context.WithoutCancel(ctx))
	if err != nil {
		o.log.Warn("provider sign-out failed", zap.String("during", why), zap.Error(err))
	}
	return err
}

// fail ends attempt a after a definitive rejection or unrecoverable error.
// The caller must hold a step claim on a. Returns cause, or
// ErrAttemptSuperseded if a was already replaced.
func (o *Orchestrator) fail(ctx context.Context, a *attempt, reason string, cause error) error {
	if !o.live(a) {
		return ErrAttemptSuperseded
	}
	// The attempt stays current while signing out so a concurrent new attempt
	// waits for this sign-out instead of racing it.
	_ = o.signOutQuietly(ctx, reason)

	o.mu.Lock()
	var trs []Transition
	if o.att == a {
		trs = append(trs, o.setState(Idle, reason, cause))
		o.att = nil
		o.session = nil
		o.profile = nil
		o.gen++
	}
	o.mu.Unlock()

	a.dispose()
	o.publish(trs...)
	if len(trs) == 0 {
		return ErrAttemptSuperseded
	}
	return cause
}

// violation handles a broken invariant: log, report, tear down.
func (o *Orchestrator) violation(ctx context.Context, a *attempt, detail string) error {
	err := fmt.Errorf("%w: %s", ErrFlowCorrupted, detail)
	fields := map[string]string{"attempt": a.id.String(), "state": o.State().String()}
	o.log.Error("login invariant violated", zap.String("attempt", fields["attempt"]), zap.String("detail", detail))
	if o.reporter != nil {
		o.reporter.ReportInvariant(err, fields)
	}
	if ferr := o.fail(ctx, a, "invariant_violation", err); errors.Is(ferr, ErrAttemptSuperseded) {
		return ferr
	}
	return err
}

// teardown discards the current attempt and any session. teardownMu must be
// held. If cancelled is set, Cancelled is published before Idle.
func (o *Orchestrator) teardown(ctx context.Context, cancelled bool, reason string) error {
	o.mu.Lock()
	a := o.att
	hadSession := o.session != nil
	active := o.state != Idle
	var trs []Transition
	if cancelled && active {
		trs = append(trs, o.setState(Cancelled, reason, nil))
	}
	o.att = nil
	o.pendingTOTP = nil
	o.gen++
	o.mu.Unlock()
	o.publish(trs...)

	if a != nil {
		a.cancel()
		a.inflight.Wait()
		a.dispose()
	}

	var err error
	if a != nil || hadSession || active {
		err = o.signOutQuietly(ctx, reason)
	}

	o.mu.Lock()
	o.session = nil
	o.profile = nil
	trs = trs[:0]
	if o.state != Idle {
		trs = append(trs, o.setState(Idle, reason, nil))
	}
	o.mu.Unlock()
	o.publish(trs...)
	return err
}

// Cancel abandons the current attempt, or signs out an established session.
// It returns once the attempt's in-flight calls have finished and the
// provider session has been ended. Cancel in Idle does nothing.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.teardownMu.Lock()
	defer o.teardownMu.Unlock()
	if o.State() == Idle {
		return nil
	}
	if err := o.teardown(ctx, true, "cancelled"); err != nil {
		// The local session is gone either way; the provider keeps nothing
		// the client can reach.
		o.log.Info("cancel completed without provider confirmation", zap.Error(err))
	}
	return nil
}

// SignOut ends everything, including an established session.
func (o *Orchestrator) SignOut(ctx context.Context) error {
	o.teardownMu.Lock()
	defer o.teardownMu.Unlock()
	return o.teardown(ctx, false, "signed_out")
}

// start replaces any current attempt with a. teardownMu must be held.
func (o *Orchestrator) start(ctx context.Context, a *attempt) {
	if o.State() != Idle {
		_ = o.teardown(ctx, true, "superseded")
	}
	o.mu.Lock()
	o.att = a
	o.gen++
	a.busy = true
	a.inflight.Add(1)
	tr := o.setState(PasswordPending, "password_submitted", nil)
	o.mu.Unlock()
	o.publish(tr)
}

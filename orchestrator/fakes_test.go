package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authflow/totp"
	"github.com/MrEthical07/authflow/vault"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const (
	bobEmail    = "bob@example.com"
	bobPassword = "Secret123"
	bobSecret   = "JBSWY3DPEHPK3PXP"
	bobID       = "acct-bob"

	aliceEmail    = "alice@example.com"
	alicePassword = "correct-password"
	aliceID       = "acct-alice"

	mailedCode = "482913"
)

// fixedNow sits in the middle of a TOTP step.
var fixedNow = time.Date(2026, 3, 14, 9, 26, 45, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeAccount struct {
	id       string
	password string
}

// fakeIdentity behaves like a BaaS client: one current session, replaced by
// every successful sign-in.
type fakeIdentity struct {
	mu       sync.Mutex
	accounts map[string]*fakeAccount
	current  *Session
	codes    map[string]string
	seq      int

	signIns, signOuts, sends, verifies int
	// stepUps records the code passed to each UpdatePassword.
	stepUps []string
	revoked []string

	signInErr  error
	sendErr    error
	verifyErr  error
	signOutErr error
	// signInGate, when set, blocks SignInWithPassword until closed or ctx ends.
	signInGate chan struct{}
	entered    chan struct{}
	// onSignIn runs after a successful sign-in, outside the lock.
	onSignIn func(*Session)
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		accounts: map[string]*fakeAccount{
			bobEmail:   {id: bobID, password: bobPassword},
			aliceEmail: {id: aliceID, password: alicePassword},
		},
		codes: map[string]string{},
	}
}

func (f *fakeIdentity) newSession(email, method string) *Session {
	f.seq++
	acct := f.accounts[email]
	return &Session{
		ID:           fmt.Sprintf("sess-%d", f.seq),
		AccountID:    acct.id,
		Email:        email,
		AccessToken:  fmt.Sprintf("access-%d", f.seq),
		RefreshToken: fmt.Sprintf("refresh-%d", f.seq),
		ExpiresAt:    fixedNow.Add(15 * time.Minute),
		Method:       method,
	}
}

func (f *fakeIdentity) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	f.mu.Lock()
	gate, entered := f.signInGate, f.entered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.signIns++
	if f.signInErr != nil {
		err := f.signInErr
		f.mu.Unlock()
		return nil, err
	}
	acct, ok := f.accounts[strings.ToLower(email)]
	if !ok || acct.password != password {
		f.mu.Unlock()
		return nil, ErrInvalidCredentials
	}
	s := f.newSession(strings.ToLower(email), "password")
	f.current = s
	hook := f.onSignIn
	f.mu.Unlock()
	if hook != nil {
		hook(s)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeIdentity) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
	f.current = nil
	return f.signOutErr
}

func (f *fakeIdentity) RevokeSession(ctx context.Context, s *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, s.ID)
	if f.current != nil && f.current.ID == s.ID {
		f.current = nil
	}
	return nil
}

func (f *fakeIdentity) GetSession(ctx context.Context) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil, nil
	}
	cp := *f.current
	return &cp, nil
}

func (f *fakeIdentity) SendEmailOneTimeCode(ctx context.Context, email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	if f.sendErr != nil {
		return f.sendErr
	}
	f.codes[strings.ToLower(email)] = mailedCode
	return nil
}

func (f *fakeIdentity) VerifyEmailOneTimeCode(ctx context.Context, email, code string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies++
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	email = strings.ToLower(email)
	want, ok := f.codes[email]
	if !ok {
		return nil, ErrCodeExpired
	}
	if want != code {
		return nil, ErrInvalidCode
	}
	delete(f.codes, email)
	s := f.newSession(email, "email_otp")
	f.current = s
	cp := *s
	return &cp, nil
}

func (f *fakeIdentity) UpdatePassword(ctx context.Context, newPassword, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return ErrNotAuthorized
	}
	f.stepUps = append(f.stepUps, code)
	f.accounts[f.current.Email].password = newPassword
	return nil
}

func (f *fakeIdentity) hasSession() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current != nil
}

func (f *fakeIdentity) counts() (signIns, signOuts, sends, verifies int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signIns, f.signOuts, f.sends, f.verifies
}

func (f *fakeIdentity) set(fn func(f *fakeIdentity)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]Profile
	failures int
	calls    int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: map[string]Profile{
		bobID:   {AccountID: bobID, Email: bobEmail, DisplayName: "Bob", KYCStatus: "verified", TwoFactorEnabled: true, BackupCodesRemaining: 8},
		aliceID: {AccountID: aliceID, Email: aliceEmail, DisplayName: "Alice", KYCStatus: "pending"},
	}}
}

func (f *fakeProfiles) GetProfile(ctx context.Context, accountID string) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return nil, errors.New("profile store unreachable")
	}
	p, ok := f.profiles[accountID]
	if !ok {
		return nil, ErrNotAuthorized
	}
	return &p, nil
}

func (f *fakeProfiles) setTwoFactor(accountID string, on bool) {
	f.mu.Lock()
	p := f.profiles[accountID]
	p.TwoFactorEnabled = on
	f.profiles[accountID] = p
	f.mu.Unlock()
}

func (f *fakeProfiles) fail(n int) {
	f.mu.Lock()
	f.failures = n
	f.mu.Unlock()
}

// fakeGateway verifies TOTP codes with the real engine at the test clock.
type fakeGateway struct {
	mu      sync.Mutex
	engine  *totp.Engine
	secrets map[string]string
	backup  map[string]map[string]bool
	pending map[string]string
	calls   int
	err     error
}

func newFakeGateway(t *testing.T, clock *testClock) *fakeGateway {
	t.Helper()
	eng, err := totp.New(totp.Config{Now: clock.Now})
	if err != nil {
		t.Fatalf("totp.New: %v", err)
	}
	return &fakeGateway{
		engine:  eng,
		secrets: map[string]string{bobID: bobSecret},
		backup:  map[string]map[string]bool{bobID: {"12345678": true}},
		pending: map[string]string{},
	}
}

func (g *fakeGateway) GenerateSecret(ctx context.Context, accountID string) (*TwoFactorSetup, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, on := g.secrets[accountID]; on {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	g.pending[accountID] = bobSecret
	return &TwoFactorSetup{Secret: bobSecret, URI: "otpauth://totp/authflow:" + accountID + "?secret=" + bobSecret}, nil
}

func (g *fakeGateway) EnableTwoFactor(ctx context.Context, accountID, secret string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending[accountID] != secret {
		return nil, errors.New("secret mismatch")
	}
	delete(g.pending, accountID)
	g.secrets[accountID] = secret
	codes, err := totp.GenerateBackupCodes()
	if err != nil {
		return nil, err
	}
	g.backup[accountID] = map[string]bool{}
	for _, c := range codes {
		g.backup[accountID][c] = true
	}
	return codes, nil
}

// stepUpLocked mirrors the server: a two-factor account needs a valid code.
func (g *fakeGateway) stepUpLocked(accountID, code string) error {
	if _, on := g.secrets[accountID]; !on {
		return nil
	}
	if code == "" {
		return ErrSecondFactorRequired
	}
	if !g.verifyLocked(accountID, code) {
		return ErrInvalidCode
	}
	return nil
}

func (g *fakeGateway) DisableTwoFactor(ctx context.Context, accountID, code string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.stepUpLocked(accountID, code); err != nil {
		return err
	}
	delete(g.secrets, accountID)
	delete(g.backup, accountID)
	return nil
}

func (g *fakeGateway) VerifySecondFactor(ctx context.Context, accountID, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return false, g.err
	}
	return g.verifyLocked(accountID, code), nil
}

func (g *fakeGateway) verifyLocked(accountID, code string) bool {
	secret, ok := g.secrets[accountID]
	if !ok {
		return false
	}
	if len(code) == 6 {
		return g.engine.Verify(secret, code)
	}
	if g.backup[accountID][code] {
		delete(g.backup[accountID], code)
		return true
	}
	return false
}

func (g *fakeGateway) GenerateBackupCodes(ctx context.Context, accountID, code string) ([]string, error) {
	codes, err := totp.GenerateBackupCodes()
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.stepUpLocked(accountID, code); err != nil {
		return nil, err
	}
	g.backup[accountID] = map[string]bool{}
	for _, c := range codes {
		g.backup[accountID][c] = true
	}
	return codes, nil
}

func (g *fakeGateway) verifyCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeBiometric struct {
	mu        sync.Mutex
	available bool
	err       error
	prompts   []string
}

func (b *fakeBiometric) IsAvailable(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available
}

func (b *fakeBiometric) Challenge(ctx context.Context, prompt string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prompts = append(b.prompts, prompt)
	return b.err
}

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) ReportInvariant(err error, fields map[string]string) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

type fixture struct {
	o        *Orchestrator
	id       *fakeIdentity
	profiles *fakeProfiles
	gateway  *fakeGateway
	bio      *fakeBiometric
	vault    *vault.Memory
	reporter *recordingReporter
	clock    *testClock

	tmu         sync.Mutex
	transitions []Transition
}

func newFixture(t *testing.T, tweak ...func(*Config)) *fixture {
	t.Helper()
	clock := &testClock{now: fixedNow}
	f := &fixture{
		id:       newFakeIdentity(),
		profiles: newFakeProfiles(),
		gateway:  newFakeGateway(t, clock),
		bio:      &fakeBiometric{available: true},
		vault:    vault.NewMemory(),
		reporter: &recordingReporter{},
		clock:    clock,
	}
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	cfg.ProfileRetryBackoff = time.Millisecond
	for _, fn := range tweak {
		fn(&cfg)
	}
	o, err := New(cfg, Deps{
		Identity:     f.id,
		Profiles:     f.profiles,
		SecondFactor: f.gateway,
		Biometric:    f.bio,
		Vault:        f.vault,
		Logger:       zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel)),
		Reporter:     f.reporter,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.o = o
	unsub := o.Subscribe(func(tr Transition) {
		f.tmu.Lock()
		f.transitions = append(f.transitions, tr)
		f.tmu.Unlock()
	})
	t.Cleanup(unsub)
	return f
}

func (f *fixture) visited(s State) bool {
	f.tmu.Lock()
	defer f.tmu.Unlock()
	for _, tr := range f.transitions {
		if tr.To == s {
			return true
		}
	}
	return false
}

func (f *fixture) path() []State {
	f.tmu.Lock()
	defer f.tmu.Unlock()
	out := make([]State, 0, len(f.transitions))
	for _, tr := range f.transitions {
		out = append(out, tr.To)
	}
	return out
}

// toSecondFactor drives bob's login up to SecondFactorPending.
func (f *fixture) toSecondFactor(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if st, err := f.o.SubmitPassword(ctx, bobEmail, bobPassword); err != nil || st != EmailCodePending {
		t.Fatalf("SubmitPassword = %v, %v", st, err)
	}
	if st, err := f.o.SubmitEmailCode(ctx, mailedCode); err != nil || st != SecondFactorPending {
		t.Fatalf("SubmitEmailCode = %v, %v", st, err)
	}
}

func (f *fixture) bobCode(t *testing.T) string {
	t.Helper()
	code, err := f.gateway.engine.GenerateAt(bobSecret, f.clock.Now())
	if err != nil {
		t.Fatalf("GenerateAt: %v", err)
	}
	return code
}

func (f *fixture) retained() bool {
	f.o.mu.Lock()
	defer f.o.mu.Unlock()
	return f.o.att != nil && f.o.att.hasPassword()
}

// Package testkit builds a complete Engine on miniredis and the in-memory
// account store for tests that exercise the HTTP surface and its clients.
package testkit

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/internal/memstore"
	"github.com/MrEthical07/authflow/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

const (
	BobEmail    = "bob@example.com"
	BobPassword = "Secret123"
	// BobSecret is the authenticator secret EnableBobTwoFactor installs.
	BobSecret = "JBSWY3DPEHPK3PXP"
)

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Outbox records every code the engine mails.
type Outbox struct {
	mu    sync.Mutex
	codes map[string][]string
}

func (o *Outbox) SendEmailCode(_ context.Context, email, code string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.codes == nil {
		o.codes = map[string][]string{}
	}
	o.codes[email] = append(o.codes[email], code)
	return nil
}

// Last returns the newest code mailed to email.
func (o *Outbox) Last(email string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	got := o.codes[strings.ToLower(email)]
	if len(got) == 0 {
		return "", false
	}
	return got[len(got)-1], true
}

func (o *Outbox) Count(email string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.codes[strings.ToLower(email)])
}

// Env is a running engine with bob seeded.
type Env struct {
	Engine *authflow.Engine
	Store  *memstore.Store
	Redis  *miniredis.Miniredis
	Mail   *Outbox
	Clock  *Clock
	Bob    authflow.AccountRecord
}

// Config is the engine configuration Env uses: HS256 and a cheap hash.
func Config() authflow.Config {
	cfg := authflow.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Parallelism = 1
	return cfg
}

// New starts an Env. tweak may adjust the configuration before Build.
func New(t testing.TB, tweak ...func(*authflow.Config)) *Env {
	t.Helper()
	cfg := Config()
	for _, fn := range tweak {
		fn(&cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &Env{
		Store: memstore.New(),
		Redis: mr,
		Mail:  &Outbox{},
		// Mid-step so neighbouring TOTP steps are unambiguous.
		Clock: &Clock{now: time.Now().Truncate(30 * time.Second).Add(10 * time.Second)},
	}
	env.Bob = env.AddAccount(t, BobEmail, BobPassword, "Bob", cfg.Password)

	engine, err := authflow.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(env.Store).
		WithCodeSender(env.Mail).
		WithLogger(zaptest.NewLogger(t)).
		WithClock(env.Clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	env.Engine = engine
	return env
}

// AddAccount seeds an active account with a hashed password.
func (e *Env) AddAccount(t testing.TB, email, pw, name string, pc authflow.PasswordConfig) authflow.AccountRecord {
	t.Helper()
	hasher, err := password.New(password.Config{
		Memory:      pc.Memory,
		Time:        pc.Time,
		Parallelism: pc.Parallelism,
		SaltLength:  pc.SaltLength,
		KeyLength:   pc.KeyLength,
	})
	if err != nil {
		t.Fatalf("password.New: %v", err)
	}
	hash, err := hasher.Hash(pw)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	return e.Store.AddAccount(authflow.AccountRecord{
		Email:        email,
		DisplayName:  name,
		PasswordHash: hash,
		KYCStatus:    "verified",
	})
}

// EnableBobTwoFactor turns on two-factor for bob with BobSecret and returns
// his backup codes.
func (e *Env) EnableBobTwoFactor(t testing.TB) []string {
	t.Helper()
	ctx := context.Background()
	if err := e.Store.SaveTwoFactorSecret(ctx, e.Bob.ID, BobSecret); err != nil {
		t.Fatalf("SaveTwoFactorSecret: %v", err)
	}
	codes, err := e.Engine.EnableTwoFactor(ctx, e.Bob.ID, BobSecret)
	if err != nil {
		t.Fatalf("EnableTwoFactor: %v", err)
	}
	return codes
}

// TOTP returns the current code for secret on the Env clock.
func (e *Env) TOTP(t testing.TB, secret string) string {
	t.Helper()
	code, err := e.Engine.TOTP().GenerateAt(secret, e.Clock.Now())
	if err != nil {
		t.Fatalf("GenerateAt: %v", err)
	}
	return code
}

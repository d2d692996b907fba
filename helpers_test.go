package authflow_test

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
)

const (
	bobEmail    = "bob@example.com"
	bobPassword = "Secret123"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	// Mid-step, so ±1 step tests have room on both sides.
	return &testClock{now: time.Now().Truncate(30 * time.Second).Add(10 * time.Second)}
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

type outbox struct {
	mu    sync.Mutex
	codes map[string][]string
	fail  bool
}

func (o *outbox) SendEmailCode(_ context.Context, email, code string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail {
		return context.DeadlineExceeded
	}
	if o.codes == nil {
		o.codes = map[string][]string{}
	}
	o.codes[email] = append(o.codes[email], code)
	return nil
}

func (o *outbox) last(t *testing.T, email string) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	got := o.codes[strings.ToLower(email)]
	if len(got) == 0 {
		t.Fatalf("no code sent to %s", email)
	}
	return got[len(got)-1]
}

func (o *outbox) count(email string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.codes[email])
}

type harness struct {
	engine *authflow.Engine
	store  *memstore.Store
	redis  *miniredis.Miniredis
	mail   *outbox
	clock  *testClock
	sink   *authflow.ChannelSink
	bob    authflow.AccountRecord
}

func testConfig() authflow.Config {
	cfg := authflow.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Parallelism = 1
	return cfg
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithConfig(t, testConfig())
}

func newHarnessWithConfig(t *testing.T, cfg authflow.Config) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		store: memstore.New(),
		redis: mr,
		mail:  &outbox{},
		clock: newTestClock(),
		sink:  authflow.NewChannelSink(256),
	}

	hasher, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		t.Fatalf("password.New: %v", err)
	}
	hash, err := hasher.Hash(bobPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h.bob = h.store.AddAccount(authflow.AccountRecord{
		Email:        bobEmail,
		DisplayName:  "Bob",
		PasswordHash: hash,
		KYCStatus:    "verified",
	})

	engine, err := authflow.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccountStore(h.store).
		WithCodeSender(h.mail).
		WithAuditSink(h.sink).
		WithClock(h.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

// enableTwoFactor runs the full setup for bob and returns the secret and
// backup codes.
func (h *harness) enableTwoFactor(t *testing.T) (string, []string) {
	t.Helper()
	ctx := context.Background()
	setup, err := h.engine.GenerateSecret(ctx, h.bob.ID)
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	codes, err := h.engine.EnableTwoFactor(ctx, h.bob.ID, setup.Secret)
	if err != nil {
		t.Fatalf("EnableTwoFactor: %v", err)
	}
	return setup.Secret, codes
}

func (h *harness) totpNow(t *testing.T, secret string) string {
	t.Helper()
	code, err := h.engine.TOTP().GenerateAt(secret, h.clock.Now())
	if err != nil {
		t.Fatalf("GenerateAt: %v", err)
	}
	return code
}

//go:build integration
// +build integration

package test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrEthical07/authflow/httpapi"
	"github.com/MrEthical07/authflow/internal/testkit"
	"github.com/MrEthical07/authflow/orchestrator"
	"github.com/MrEthical07/authflow/remote"
	"github.com/MrEthical07/authflow/vault"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// device is a phone talking to a real server: orchestrator, HTTP client,
// in-memory vault, and a biometric sensor that always passes.
type device struct {
	env    *testkit.Env
	client *remote.Client
	orch   *orchestrator.Orchestrator
	sensor *sensor

	mu     sync.Mutex
	states []orchestrator.State
}

type sensor struct {
	mu        sync.Mutex
	available bool
	prompts   int
}

func (s *sensor) IsAvailable(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

func (s *sensor) Challenge(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts++
	return nil
}

func newDevice(t *testing.T) *device {
	t.Helper()
	env := testkit.New(t)
	log := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))

	srv := httptest.NewServer(httpapi.NewRouter(env.Engine, httpapi.Options{Logger: log}))
	t.Cleanup(srv.Close)

	client, err := remote.New(srv.URL, remote.Options{HTTPClient: srv.Client(), Logger: log})
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}

	cfg := orchestrator.DefaultConfig()
	cfg.Now = env.Clock.Now
	cfg.ProfileRetryBackoff = 0
	d := &device{env: env, client: client, sensor: &sensor{available: true}}
	d.orch, err = orchestrator.New(cfg, orchestrator.Deps{
		Identity:     client,
		Profiles:     client,
		SecondFactor: client,
		Biometric:    d.sensor,
		Vault:        vault.NewMemory(),
		Logger:       log,
	})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	client.OnSessionEvent(func(ctx context.Context, ev orchestrator.SessionEvent) {
		_ = d.orch.HandleSessionEvent(ctx, ev)
	})
	unsubscribe := d.orch.Subscribe(func(tr orchestrator.Transition) {
		d.mu.Lock()
		d.states = append(d.states, tr.To)
		d.mu.Unlock()
	})
	t.Cleanup(unsubscribe)
	return d
}

func (d *device) path() []orchestrator.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]orchestrator.State(nil), d.states...)
}

func (d *device) mailedCode(t *testing.T, email string) string {
	t.Helper()
	code, ok := d.env.Mail.Last(email)
	if !ok {
		t.Fatalf("no code mailed to %s", email)
	}
	return code
}

func (d *device) serverSessions(t *testing.T, accountID string) int64 {
	t.Helper()
	n, err := d.env.Engine.SessionCount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("SessionCount: %v", err)
	}
	return n
}

// bobToSecondFactor drives bob through password and email code.
func (d *device) bobToSecondFactor(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	st, err := d.orch.SubmitPassword(ctx, testkit.BobEmail, testkit.BobPassword)
	if err != nil || st != orchestrator.EmailCodePending {
		t.Fatalf("SubmitPassword = %v, %v", st, err)
	}
	st, err = d.orch.SubmitEmailCode(ctx, d.mailedCode(t, testkit.BobEmail))
	if err != nil || st != orchestrator.SecondFactorPending {
		t.Fatalf("SubmitEmailCode = %v, %v", st, err)
	}
}

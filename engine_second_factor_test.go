package authflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authflow"
)

func TestGenerateSecretLeavesTwoFactorDisabled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	setup, err := h.engine.GenerateSecret(ctx, h.bob.ID)
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if setup.Secret == "" || setup.URI == "" {
		t.Fatalf("incomplete setup %+v", setup)
	}
	sec, _ := h.store.GetSecurityProfile(ctx, h.bob.ID)
	if sec.TwoFactorEnabled {
		t.Fatal("two-factor enabled before confirmation")
	}
	if ok, err := h.engine.VerifySecondFactor(ctx, h.bob.ID, h.totpNow(t, setup.Secret)); ok || err != nil {
		t.Fatalf("pending secret must not verify, got %v %v", ok, err)
	}
}

func TestEnableTwoFactorRequiresPendingSecret(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.engine.EnableTwoFactor(ctx, h.bob.ID, "JBSWY3DPEHPK3PXP"); !errors.Is(err, authflow.ErrTwoFactorNotConfigured) {
		t.Fatalf("expected ErrTwoFactorNotConfigured, got %v", err)
	}
	first, _ := h.engine.GenerateSecret(ctx, h.bob.ID)
	second, _ := h.engine.GenerateSecret(ctx, h.bob.ID)
	if first.Secret == second.Secret {
		t.Fatal("expected a fresh secret")
	}
	if _, err := h.engine.EnableTwoFactor(ctx, h.bob.ID, first.Secret); !errors.Is(err, authflow.ErrTwoFactorSecretMismatch) {
		t.Fatalf("expected stale secret rejected, got %v", err)
	}
	codes, err := h.engine.EnableTwoFactor(ctx, h.bob.ID, second.Secret)
	if err != nil {
		t.Fatalf("EnableTwoFactor: %v", err)
	}
	if len(codes) != 8 {
		t.Fatalf("expected 8 backup codes, got %d", len(codes))
	}
	seen := map[string]bool{}
	for _, c := range codes {
		if len(c) != 8 || seen[c] {
			t.Fatalf("bad or duplicate backup code %q", c)
		}
		seen[c] = true
	}
	if _, err := h.engine.GenerateSecret(ctx, h.bob.ID); !errors.Is(err, authflow.ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("expected ErrTwoFactorAlreadyEnabled, got %v", err)
	}
}

func TestVerifySecondFactorTOTP(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret, _ := h.enableTwoFactor(t)

	code := h.totpNow(t, secret)
	ok, err := h.engine.VerifySecondFactor(ctx, h.bob.ID, code)
	if err != nil || !ok {
		t.Fatalf("expected current code accepted, got %v %v", ok, err)
	}
	if ok, _ := h.engine.VerifySecondFactor(ctx, h.bob.ID, code); ok {
		t.Fatal("expected replayed code rejected")
	}

	h.clock.Advance(30 * time.Second)
	next := h.totpNow(t, secret)
	h.clock.Advance(30 * time.Second)
	if ok, _ := h.engine.VerifySecondFactor(ctx, h.bob.ID, next); !ok {
		t.Fatal("expected previous-step code accepted within skew")
	}

	stale := h.totpNow(t, secret)
	h.clock.Advance(60 * time.Second)
	if ok, _ := h.engine.VerifySecondFactor(ctx, h.bob.ID, stale); ok {
		t.Fatal("expected code two steps old rejected")
	}
}

func TestVerifySecondFactorRejectsMalformedInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.enableTwoFactor(t)

	for _, code := range []string{"", "12345", "1234567", "123456789", "abcdef"} {
		ok, err := h.engine.VerifySecondFactor(ctx, h.bob.ID, code)
		if ok || err != nil {
			t.Fatalf("code %q: expected (false, nil), got (%v, %v)", code, ok, err)
		}
	}
}

func TestVerifySecondFactorUnknownAccountIsFalse(t *testing.T) {
	h := newHarness(t)
	ok, err := h.engine.VerifySecondFactor(context.Background(), "no-such-account", "123456")
	if ok || err != nil {
		t.Fatalf("expected (false, nil), got (%v, %v)", ok, err)
	}
}

func TestBackupCodesAreSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, codes := h.enableTwoFactor(t)

	ok, err := h.engine.VerifySecondFactor(ctx, h.bob.ID, codes[0][:4]+"-"+codes[0][4:])
	if err != nil || !ok {
		t.Fatalf("expected backup code accepted, got %v %v", ok, err)
	}
	if ok, _ := h.engine.VerifySecondFactor(ctx, h.bob.ID, codes[0]); ok {
		t.Fatal("expected used backup code rejected")
	}
	p, _ := h.engine.GetProfile(ctx, h.bob.ID, h.bob.ID)
	if p.BackupCodesRemaining != 7 {
		t.Fatalf("expected 7 codes remaining, got %d", p.BackupCodesRemaining)
	}
}

func TestRegeneratedBackupCodesReplacePool(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, old := h.enableTwoFactor(t)

	fresh, err := h.engine.GenerateBackupCodes(ctx, h.bob.ID, old[0])
	if err != nil {
		t.Fatalf("GenerateBackupCodes: %v", err)
	}
	if ok, _ := h.engine.VerifySecondFactor(ctx, h.bob.ID, old[1]); ok {
		t.Fatal("expected old pool invalidated")
	}
	if ok, _ := h.engine.VerifySecondFactor(ctx, h.bob.ID, fresh[1]); !ok {
		t.Fatal("expected new code accepted")
	}
}

func TestDisableTwoFactorClearsState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret, codes := h.enableTwoFactor(t)

	if err := h.engine.DisableTwoFactor(ctx, h.bob.ID, h.totpNow(t, secret)); err != nil {
		t.Fatalf("DisableTwoFactor: %v", err)
	}
	if err := h.engine.DisableTwoFactor(ctx, h.bob.ID, ""); !errors.Is(err, authflow.ErrTwoFactorNotEnabled) {
		t.Fatalf("expected ErrTwoFactorNotEnabled, got %v", err)
	}
	if ok, _ := h.engine.VerifySecondFactor(ctx, h.bob.ID, h.totpNow(t, secret)); ok {
		t.Fatal("TOTP accepted after disable")
	}
	if ok, _ := h.engine.VerifySecondFactor(ctx, h.bob.ID, codes[2]); ok {
		t.Fatal("backup code accepted after disable")
	}
	if _, err := h.engine.GenerateBackupCodes(ctx, h.bob.ID, ""); !errors.Is(err, authflow.ErrTwoFactorNotEnabled) {
		t.Fatalf("expected ErrTwoFactorNotEnabled, got %v", err)
	}
}

func TestTwoFactorChangesRequireStepUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret, codes := h.enableTwoFactor(t)
	wrong := "000000"
	if h.totpNow(t, secret) == wrong {
		wrong = "111111"
	}

	if err := h.engine.DisableTwoFactor(ctx, h.bob.ID, ""); !errors.Is(err, authflow.ErrStepUpRequired) {
		t.Fatalf("disable without code: %v", err)
	}
	if err := h.engine.DisableTwoFactor(ctx, h.bob.ID, wrong); !errors.Is(err, authflow.ErrStepUpFailed) {
		t.Fatalf("disable with wrong code: %v", err)
	}
	if _, err := h.engine.GenerateBackupCodes(ctx, h.bob.ID, ""); !errors.Is(err, authflow.ErrStepUpRequired) {
		t.Fatalf("regenerate without code: %v", err)
	}
	if err := h.engine.UpdatePassword(ctx, h.bob.ID, "", "N3w-Secret-456", ""); !errors.Is(err, authflow.ErrStepUpRequired) {
		t.Fatalf("password change without code: %v", err)
	}
	if _, err := h.engine.SignInWithPassword(ctx, bobEmail, bobPassword); err != nil {
		t.Fatalf("password changed without step-up: %v", err)
	}
	p, _ := h.engine.GetProfile(ctx, h.bob.ID, h.bob.ID)
	if !p.TwoFactorEnabled || p.BackupCodesRemaining != len(codes) {
		t.Fatalf("profile changed by rejected calls: %+v", p)
	}

	if err := h.engine.UpdatePassword(ctx, h.bob.ID, "", "N3w-Secret-456", codes[0]); err != nil {
		t.Fatalf("password change with backup code: %v", err)
	}
	if err := h.engine.DisableTwoFactor(ctx, h.bob.ID, h.totpNow(t, secret)); err != nil {
		t.Fatalf("disable with TOTP: %v", err)
	}
}

func TestSecondFactorAttemptsAreRateLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	secret, _ := h.enableTwoFactor(t)

	good := h.totpNow(t, secret)
	wrong := "000000"
	if good == wrong {
		wrong = "111111"
	}
	for i := 0; i < 5; i++ {
		if ok, err := h.engine.VerifySecondFactor(ctx, h.bob.ID, wrong); ok || err != nil {
			t.Fatalf("attempt %d: expected (false, nil), got (%v, %v)", i+1, ok, err)
		}
	}
	if _, err := h.engine.VerifySecondFactor(ctx, h.bob.ID, good); !errors.Is(err, authflow.ErrSecondFactorRateLimited) {
		t.Fatalf("expected ErrSecondFactorRateLimited, got %v", err)
	}
}

func TestEnableTwoFactorRevokesOtherSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	current, _ := h.engine.SignInWithPassword(ctx, bobEmail, bobPassword)
	other, _ := h.engine.SignInWithPassword(ctx, bobEmail, bobPassword)

	setup, err := h.engine.GenerateSecret(ctx, h.bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.EnableTwoFactor(authflow.WithSessionID(ctx, current.SessionID), h.bob.ID, setup.Secret); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.GetSession(ctx, current.AccessToken); err != nil {
		t.Fatalf("current session lost: %v", err)
	}
	if _, err := h.engine.GetSession(ctx, other.AccessToken); !errors.Is(err, authflow.ErrSessionNotFound) {
		t.Fatalf("expected other session revoked, got %v", err)
	}
}

func TestVerifyLatencyIsRecorded(t *testing.T) {
	h := newHarness(t)
	h.enableTwoFactor(t)
	_, _ = h.engine.VerifySecondFactor(context.Background(), h.bob.ID, "000000")

	snap := h.engine.MetricsSnapshot()
	var total uint64
	for _, n := range snap.Histograms[authflow.MetricVerifyLatency] {
		total += n
	}
	if total != 1 {
		t.Fatalf("expected one latency observation, got %d", total)
	}
	if snap.Counters[authflow.MetricTwoFactorEnabled] != 1 {
		t.Fatalf("expected enable counted, got %d", snap.Counters[authflow.MetricTwoFactorEnabled])
	}
}

package memstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MrEthical07/authflow"
)

func TestLookupIsCaseInsensitive(t *testing.T) {
	s := New()
	rec := s.AddAccount(authflow.AccountRecord{Email: "Bob@Example.com"})

	got, err := s.GetAccountByEmail(context.Background(), " bob@example.COM ")
	if err != nil {
		t.Fatalf("GetAccountByEmail: %v", err)
	}
	if got.ID != rec.ID {
		t.Fatalf("expected %s, got %s", rec.ID, got.ID)
	}
	if _, err := s.GetAccountByEmail(context.Background(), "alice@example.com"); !errors.Is(err, authflow.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestSecretCannotOverwriteEnabled(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec := s.AddAccount(authflow.AccountRecord{Email: "bob@example.com"})

	if err := s.SaveTwoFactorSecret(ctx, rec.ID, "AAAA"); err != nil {
		t.Fatal(err)
	}
	if err := s.EnableTwoFactor(ctx, rec.ID, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveTwoFactorSecret(ctx, rec.ID, "BBBB"); !errors.Is(err, authflow.ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("expected ErrTwoFactorAlreadyEnabled, got %v", err)
	}
	sec, _ := s.GetSecurityProfile(ctx, rec.ID)
	if sec.TwoFactorSecret != "AAAA" {
		t.Fatalf("secret overwritten: %q", sec.TwoFactorSecret)
	}
}

func TestDisableClearsEverything(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec := s.AddAccount(authflow.AccountRecord{Email: "bob@example.com"})
	_ = s.SaveTwoFactorSecret(ctx, rec.ID, "AAAA")
	_ = s.EnableTwoFactor(ctx, rec.ID, []authflow.BackupCodeRecord{{Hash: sha256.Sum256([]byte("x"))}})
	_, _ = s.AdvanceTOTPCounter(ctx, rec.ID, 42)

	if err := s.DisableTwoFactor(ctx, rec.ID); err != nil {
		t.Fatal(err)
	}
	sec, _ := s.GetSecurityProfile(ctx, rec.ID)
	if sec != (authflow.SecurityProfile{}) {
		t.Fatalf("expected zero profile, got %+v", sec)
	}
}

func TestAdvanceCounterIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec := s.AddAccount(authflow.AccountRecord{Email: "bob@example.com"})

	if ok, _ := s.AdvanceTOTPCounter(ctx, rec.ID, 10); !ok {
		t.Fatal("expected first advance to succeed")
	}
	if ok, _ := s.AdvanceTOTPCounter(ctx, rec.ID, 10); ok {
		t.Fatal("expected same counter to be rejected")
	}
	if ok, _ := s.AdvanceTOTPCounter(ctx, rec.ID, 9); ok {
		t.Fatal("expected older counter to be rejected")
	}
}

func TestConsumeBackupCodeOnlyOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec := s.AddAccount(authflow.AccountRecord{Email: "bob@example.com"})
	h := sha256.Sum256([]byte("12345678"))
	_ = s.ReplaceBackupCodes(ctx, rec.ID, []authflow.BackupCodeRecord{{Hash: h}})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.ConsumeBackupCode(ctx, rec.ID, h); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", wins.Load())
	}
}

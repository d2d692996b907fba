package pgstore_test

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/pgstore"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap/zaptest"
)

// openStore connects to AUTHFLOW_TEST_DATABASE_URL inside a fresh schema
// that is dropped afterwards.
func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("AUTHFLOW_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("AUTHFLOW_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	schema := fmt.Sprintf("authflow_test_%d", time.Now().UnixNano())

	admin, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(admin.Close)
	if _, err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() { _, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE") })

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	s := pgstore.New(pool, zaptest.NewLogger(t))
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	return s
}

func codes(values ...string) []authflow.BackupCodeRecord {
	out := make([]authflow.BackupCodeRecord, len(values))
	for i, v := range values {
		out[i] = authflow.BackupCodeRecord{Hash: sha256.Sum256([]byte(v))}
	}
	return out
}

func TestAccounts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	bob, err := s.CreateAccount(ctx, authflow.AccountRecord{Email: " Bob@Example.com ", DisplayName: "Bob", PasswordHash: "h1"})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := s.CreateAccount(ctx, authflow.AccountRecord{Email: "bob@example.com", PasswordHash: "h"}); !errors.Is(err, pgstore.ErrEmailTaken) {
		t.Fatalf("duplicate email: %v", err)
	}

	got, err := s.GetAccountByEmail(ctx, "BOB@example.com")
	if err != nil || got.ID != bob.ID || got.Email != "bob@example.com" {
		t.Fatalf("GetAccountByEmail = %+v, %v", got, err)
	}
	if _, err := s.GetAccountByID(ctx, "missing"); !errors.Is(err, authflow.ErrAccountNotFound) {
		t.Fatalf("missing id: %v", err)
	}

	if err := s.UpdatePasswordHash(ctx, bob.ID, "h2"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetStatus(ctx, bob.ID, authflow.AccountLocked); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetAccountByID(ctx, bob.ID)
	if got.PasswordHash != "h2" || got.Status != authflow.AccountLocked {
		t.Fatalf("after updates = %+v", got)
	}
}

func TestTwoFactorLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	bob, err := s.CreateAccount(ctx, authflow.AccountRecord{Email: "bob@example.com", PasswordHash: "h"})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SaveTwoFactorSecret(ctx, bob.ID, "JBSWY3DPEHPK3PXP"); err != nil {
		t.Fatalf("SaveTwoFactorSecret: %v", err)
	}
	if err := s.EnableTwoFactor(ctx, bob.ID, codes("11111111", "22222222")); err != nil {
		t.Fatalf("EnableTwoFactor: %v", err)
	}
	if err := s.SaveTwoFactorSecret(ctx, bob.ID, "OTHER"); !errors.Is(err, authflow.ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("overwrite enabled secret: %v", err)
	}
	if err := s.EnableTwoFactor(ctx, bob.ID, nil); !errors.Is(err, authflow.ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("enable twice: %v", err)
	}

	sec, err := s.GetSecurityProfile(ctx, bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !sec.TwoFactorEnabled || sec.TwoFactorSecret != "JBSWY3DPEHPK3PXP" || sec.BackupCodesRemaining != 2 {
		t.Fatalf("profile = %+v", sec)
	}

	if ok, err := s.AdvanceTOTPCounter(ctx, bob.ID, 100); !ok || err != nil {
		t.Fatalf("advance 100 = %v, %v", ok, err)
	}
	if ok, err := s.AdvanceTOTPCounter(ctx, bob.ID, 100); ok || err != nil {
		t.Fatalf("replay 100 = %v, %v", ok, err)
	}
	if _, err := s.AdvanceTOTPCounter(ctx, "missing", 1); !errors.Is(err, authflow.ErrAccountNotFound) {
		t.Fatalf("missing account: %v", err)
	}

	h := sha256.Sum256([]byte("11111111"))
	if ok, err := s.ConsumeBackupCode(ctx, bob.ID, h); !ok || err != nil {
		t.Fatalf("consume = %v, %v", ok, err)
	}
	if ok, err := s.ConsumeBackupCode(ctx, bob.ID, h); ok || err != nil {
		t.Fatalf("consume twice = %v, %v", ok, err)
	}

	if err := s.ReplaceBackupCodes(ctx, bob.ID, codes("33333333", "44444444", "55555555")); err != nil {
		t.Fatal(err)
	}
	sec, _ = s.GetSecurityProfile(ctx, bob.ID)
	if sec.BackupCodesRemaining != 3 {
		t.Fatalf("remaining = %d", sec.BackupCodesRemaining)
	}

	if err := s.DisableTwoFactor(ctx, bob.ID); err != nil {
		t.Fatal(err)
	}
	sec, _ = s.GetSecurityProfile(ctx, bob.ID)
	if sec != (authflow.SecurityProfile{}) {
		t.Fatalf("after disable = %+v", sec)
	}
}

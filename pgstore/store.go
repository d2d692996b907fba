// Package pgstore is a PostgreSQL authflow.AccountStore built on pgxpool.
//
// The schema ships as embedded migrations; call Migrate once at startup.
// Backup codes live in their own table so consuming one is a single DELETE.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authflow"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrEmailTaken is returned by CreateAccount for a duplicate address.
var ErrEmailTaken = errors.New("pgstore: email already registered")

const uniqueViolation = "23505"

// Store is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

var _ authflow.AccountStore = (*Store)(nil)

// New wraps an existing pool. The caller keeps ownership of pool.
func New(pool *pgxpool.Pool, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{pool: pool, log: log}
}

// Open connects to dsn and checks the connection.
func Open(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return New(pool, log), nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

const accountColumns = `id, email, display_name, password_hash, status, kyc_status, created_at`

func scanAccount(row pgx.Row) (authflow.AccountRecord, error) {
	var (
		rec    authflow.AccountRecord
		status int16
	)
	err := row.Scan(&rec.ID, &rec.Email, &rec.DisplayName, &rec.PasswordHash, &status, &rec.KYCStatus, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authflow.AccountRecord{}, authflow.ErrAccountNotFound
		}
		return authflow.AccountRecord{}, fmt.Errorf("scan account: %w", err)
	}
	rec.Status = authflow.AccountStatus(status)
	return rec, nil
}

// CreateAccount inserts rec. An empty ID gets a UUIDv7.
func (s *Store) CreateAccount(ctx context.Context, rec authflow.AccountRecord) (authflow.AccountRecord, error) {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return authflow.AccountRecord{}, fmt.Errorf("generate uuid v7: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Email = normalize(rec.Email)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, email, display_name, password_hash, status, kyc_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rec.ID, rec.Email, rec.DisplayName, rec.PasswordHash, int16(rec.Status), rec.KYCStatus, rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return authflow.AccountRecord{}, ErrEmailTaken
		}
		return authflow.AccountRecord{}, fmt.Errorf("insert account: %w", err)
	}
	return rec, nil
}

func (s *Store) SetStatus(ctx context.Context, accountID string, status authflow.AccountStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE accounts SET status = $2 WHERE id = $1`, accountID, int16(status))
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authflow.ErrAccountNotFound
	}
	return nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (authflow.AccountRecord, error) {
	return scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, normalize(email)))
}

func (s *Store) GetAccountByID(ctx context.Context, accountID string) (authflow.AccountRecord, error) {
	return scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
}

func (s *Store) UpdatePasswordHash(ctx context.Context, accountID, hash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE accounts SET password_hash = $2 WHERE id = $1`, accountID, hash)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authflow.ErrAccountNotFound
	}
	return nil
}

func (s *Store) GetSecurityProfile(ctx context.Context, accountID string) (authflow.SecurityProfile, error) {
	var (
		out       authflow.SecurityProfile
		remaining int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT a.two_factor_enabled, a.two_factor_secret, a.totp_last_counter,
		       (SELECT COUNT(*) FROM backup_codes b WHERE b.account_id = a.id)
		FROM accounts a
		WHERE a.id = $1
	`, accountID).Scan(&out.TwoFactorEnabled, &out.TwoFactorSecret, &out.LastUsedCounter, &remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authflow.SecurityProfile{}, authflow.ErrAccountNotFound
		}
		return authflow.SecurityProfile{}, fmt.Errorf("query security profile: %w", err)
	}
	out.BackupCodesRemaining = int(remaining)
	return out, nil
}

// missOrEnabled explains a guarded UPDATE that matched no row.
func missOrEnabled(ctx context.Context, q pgx.Tx, accountID string) error {
	var enabled bool
	err := q.QueryRow(ctx, `SELECT two_factor_enabled FROM accounts WHERE id = $1`, accountID).Scan(&enabled)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return authflow.ErrAccountNotFound
	case err != nil:
		return fmt.Errorf("query two-factor flag: %w", err)
	case enabled:
		return authflow.ErrTwoFactorAlreadyEnabled
	default:
		return fmt.Errorf("pgstore: account %s changed concurrently", accountID)
	}
}

func (s *Store) SaveTwoFactorSecret(ctx context.Context, accountID, secret string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE accounts SET two_factor_secret = $2, totp_last_counter = 0
			WHERE id = $1 AND NOT two_factor_enabled
		`, accountID, secret)
		if err != nil {
			return fmt.Errorf("save two-factor secret: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return missOrEnabled(ctx, tx, accountID)
		}
		return nil
	})
}

func (s *Store) EnableTwoFactor(ctx context.Context, accountID string, codes []authflow.BackupCodeRecord) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE accounts SET two_factor_enabled = TRUE
			WHERE id = $1 AND NOT two_factor_enabled
		`, accountID)
		if err != nil {
			return fmt.Errorf("enable two-factor: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return missOrEnabled(ctx, tx, accountID)
		}
		return replaceCodes(ctx, tx, accountID, codes)
	})
}

func (s *Store) DisableTwoFactor(ctx context.Context, accountID string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE accounts
			SET two_factor_enabled = FALSE, two_factor_secret = '', totp_last_counter = 0
			WHERE id = $1
		`, accountID)
		if err != nil {
			return fmt.Errorf("disable two-factor: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return authflow.ErrAccountNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE account_id = $1`, accountID); err != nil {
			return fmt.Errorf("delete backup codes: %w", err)
		}
		return nil
	})
}

func (s *Store) AdvanceTOTPCounter(ctx context.Context, accountID string, counter int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET totp_last_counter = $2
		WHERE id = $1 AND totp_last_counter < $2
	`, accountID, counter)
	if err != nil {
		return false, fmt.Errorf("advance totp counter: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetAccountByID(ctx, accountID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, accountID string, codes []authflow.BackupCodeRecord) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var one int
		err := tx.QueryRow(ctx, `SELECT 1 FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return authflow.ErrAccountNotFound
		}
		if err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		return replaceCodes(ctx, tx, accountID, codes)
	})
}

func replaceCodes(ctx context.Context, tx pgx.Tx, accountID string, codes []authflow.BackupCodeRecord) error {
	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("delete backup codes: %w", err)
	}
	rows := make([][]any, len(codes))
	for i, c := range codes {
		rows[i] = []any{accountID, c.Hash[:]}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"backup_codes"}, []string{"account_id", "code_hash"}, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy backup codes: %w", err)
	}
	return nil
}

// ConsumeBackupCode deletes the matching row; the DELETE decides races.
func (s *Store) ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM backup_codes WHERE account_id = $1 AND code_hash = $2`, accountID, hash[:])
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Package memstore is an in-memory authflow.AccountStore for tests and local
// demos. Every method holds one mutex, which gives the atomicity the
// interface asks for.
package memstore

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authflow"
	"github.com/google/uuid"
)

type account struct {
	record   authflow.AccountRecord
	security authflow.SecurityProfile
	backup   [][32]byte
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	byID    map[string]*account
	byEmail map[string]string
}

func New() *Store {
	return &Store{
		byID:    map[string]*account{},
		byEmail: map[string]string{},
	}
}

// AddAccount inserts rec, assigning an id and creation time when empty, and
// returns the stored record.
func (s *Store) AddAccount(rec authflow.AccountRecord) authflow.AccountRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Email = normalize(rec.Email)
	s.byID[rec.ID] = &account{record: rec}
	s.byEmail[rec.Email] = rec.ID
	return rec
}

// SetStatus changes an account's status, mostly for tests.
func (s *Store) SetStatus(accountID string, status authflow.AccountStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[accountID]
	if !ok {
		return authflow.ErrAccountNotFound
	}
	a.record.Status = status
	return nil
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (authflow.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[normalize(email)]
	if !ok {
		return authflow.AccountRecord{}, authflow.ErrAccountNotFound
	}
	return s.byID[id].record, nil
}

func (s *Store) GetAccountByID(_ context.Context, accountID string) (authflow.AccountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[accountID]
	if !ok {
		return authflow.AccountRecord{}, authflow.ErrAccountNotFound
	}
	return a.record, nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, accountID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[accountID]
	if !ok {
		return authflow.ErrAccountNotFound
	}
	a.record.PasswordHash = hash
	return nil
}

func (s *Store) GetSecurityProfile(_ context.Context, accountID string) (authflow.SecurityProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[accountID]
	if !ok {
		return authflow.SecurityProfile{}, authflow.ErrAccountNotFound
	}
	out := a.security
	out.BackupCodesRemaining = len(a.backup)
	return out, nil
}

func (s *Store) SaveTwoFactorSecret(_ context.Context, accountID, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[accountID]
	if !ok {
		return authflow.ErrAccountNotFound
	}
	if a.security.TwoFactorEnabled {
		return authflow.ErrTwoFactorAlreadyEnabled
	}
	a.security.TwoFactorSecret = secret
	a.security.LastUsedCounter = 0
	return nil
}

func (s *Store) EnableTwoFactor(_ context.Context, accountID string, codes []authflow.BackupCodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[accountID]
	if !ok {
		return authflow.ErrAccountNotFound
	}
	if a.security.TwoFactorEnabled {
		return authflow.ErrTwoFactorAlreadyEnabled
	}
	a.security.TwoFactorEnabled = true
	a.backup = hashes(codes)
	return nil
}

func (s *Store) DisableTwoFactor(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[accountID]
	if !ok {
		return authflow.ErrAccountNotFound
	}
	a.security = authflow.SecurityProfile{}
	a.backup = nil
	return nil
}

func (s *Store) AdvanceTOTPCounter(_ context.Context, accountID string, counter int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[accountID]
	if !ok {
		return false, authflow.ErrAccountNotFound
	}
	if counter <= a.security.LastUsedCounter {
		return false, nil
	}
	a.security.LastUsedCounter = counter
	return true, nil
}

func (s *Store) ReplaceBackupCodes(_ context.Context, accountID string, codes []authflow.BackupCodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[accountID]
	if !ok {
		return authflow.ErrAccountNotFound
	}
	a.backup = hashes(codes)
	return nil
}

func (s *Store) ConsumeBackupCode(_ context.Context, accountID string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[accountID]
	if !ok {
		return false, authflow.ErrAccountNotFound
	}
	for i, h := range a.backup {
		if subtle.ConstantTimeCompare(h[:], hash[:]) == 1 {
			a.backup = append(a.backup[:i], a.backup[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func hashes(codes []authflow.BackupCodeRecord) [][32]byte {
	out := make([][32]byte, len(codes))
	for i, c := range codes {
		out[i] = c.Hash
	}
	return out
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var _ authflow.AccountStore = (*Store)(nil)

package stores

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const emailCodeRecordV1 = 1

var (
	ErrCodeNotFound         = errors.New("email code not found")
	ErrCodeExpired          = errors.New("email code expired")
	ErrCodeMismatch         = errors.New("email code mismatch")
	ErrCodeAttemptsExceeded = errors.New("email code attempts exceeded")
	ErrCooldownActive       = errors.New("email code resend cooldown active")
	ErrUnavailable          = errors.New("email code store unavailable")
)

// EmailCodeRecord is one outstanding code.
type EmailCodeRecord struct {
	AccountID string
	CodeHash  [32]byte
	ExpiresAt int64
	Attempts  uint16
}

// EmailCodeStore is safe for concurrent use.
type EmailCodeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewEmailCodeStore(client redis.UniversalClient, prefix string) *EmailCodeStore {
	if prefix == "" {
		prefix = "eotp"
	}
	return &EmailCodeStore{redis: client, prefix: prefix}
}

// HashCode binds the code to the address it was sent to.
func HashCode(email, code string) [32]byte {
	return sha256.Sum256([]byte(NormalizeEmail(email) + "\x00" + code))
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *EmailCodeStore) emailKey(kind, email string) string {
	sum := sha256.Sum256([]byte(NormalizeEmail(email)))
	return s.prefix + ":" + kind + ":" + hex.EncodeToString(sum[:16])
}

// StartCooldown claims the resend window for email. If a window is already
// running it returns ErrCooldownActive and the time left.
func (s *EmailCodeStore) StartCooldown(ctx context.Context, email string, window time.Duration) (time.Duration, error) {
	if window <= 0 {
		return 0, nil
	}
	key := s.emailKey("cd", email)
	ok, err := s.redis.SetNX(ctx, key, "1", window).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ok {
		return 0, nil
	}
	left, err := s.redis.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if left <= 0 {
		// raced with expiry; treat as a fresh window next call
		left = time.Millisecond
	}
	return left, ErrCooldownActive
}

// ClearCooldown drops the resend window, used when delivery failed.
func (s *EmailCodeStore) ClearCooldown(ctx context.Context, email string) error {
	if err := s.redis.Del(ctx, s.emailKey("cd", email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Save replaces any outstanding code for email.
func (s *EmailCodeStore) Save(ctx context.Context, email string, record *EmailCodeRecord, ttl time.Duration) error {
	data, err := encodeEmailCode(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.emailKey("code", email), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Consume checks codeHash against the outstanding record. On a match the
// record is deleted and its account id returned. On a mismatch the attempt
// counter advances; reaching maxAttempts deletes the record.
func (s *EmailCodeStore) Consume(ctx context.Context, email string, codeHash [32]byte, maxAttempts int) (string, error) {
	const maxRetries = 4
	key := s.emailKey("code", email)

	for i := 0; i < maxRetries; i++ {
		var accountID string
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := decodeEmailCode(data)
			if err != nil {
				return err
			}

			del := func() error {
				_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
					p.Del(ctx, key)
					return nil
				})
				return err
			}

			if time.Now().Unix() >= record.ExpiresAt {
				if err := del(); err != nil {
					return err
				}
				return ErrCodeExpired
			}

			if subtle.ConstantTimeCompare(record.CodeHash[:], codeHash[:]) == 1 {
				if err := del(); err != nil {
					return err
				}
				accountID = record.AccountID
				return nil
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				if err := del(); err != nil {
					return err
				}
				return ErrCodeAttemptsExceeded
			}
			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			updated, err := encodeEmailCode(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, key, updated, ttl)
				return nil
			})
			if err != nil {
				return err
			}
			return ErrCodeMismatch
		}, key)

		switch {
		case err == nil:
			return accountID, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return "", ErrCodeNotFound
		case errors.Is(err, ErrCodeExpired),
			errors.Is(err, ErrCodeMismatch),
			errors.Is(err, ErrCodeAttemptsExceeded):
			return "", err
		default:
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return "", fmt.Errorf("%w: contention", ErrUnavailable)
}

func encodeEmailCode(r *EmailCodeRecord) ([]byte, error) {
	if r == nil || r.AccountID == "" {
		return nil, errors.New("email code record requires account id")
	}
	if len(r.AccountID) > 0xffff {
		return nil, errors.New("email code account id too long")
	}
	var buf bytes.Buffer
	buf.WriteByte(emailCodeRecordV1)
	_ = binary.Write(&buf, binary.BigEndian, r.Attempts)
	_ = binary.Write(&buf, binary.BigEndian, r.ExpiresAt)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(r.AccountID)))
	buf.WriteString(r.AccountID)
	buf.Write(r.CodeHash[:])
	return buf.Bytes(), nil
}

func decodeEmailCode(data []byte) (*EmailCodeRecord, error) {
	rd := bytes.NewReader(data)
	v, err := rd.ReadByte()
	if err != nil || v != emailCodeRecordV1 {
		return nil, errors.New("invalid email code record version")
	}
	r := &EmailCodeRecord{}
	if err := binary.Read(rd, binary.BigEndian, &r.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(rd, binary.BigEndian, &r.ExpiresAt); err != nil {
		return nil, err
	}
	var n uint16
	if err := binary.Read(rd, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	id := make([]byte, n)
	if _, err := io.ReadFull(rd, id); err != nil {
		return nil, err
	}
	r.AccountID = string(id)
	if _, err := io.ReadFull(rd, r.CodeHash[:]); err != nil {
		return nil, err
	}
	return r, nil
}

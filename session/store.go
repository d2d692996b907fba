package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound means the session expired, was revoked, or never existed.
	ErrNotFound = errors.New("session: not found")
	// ErrRefreshReuse means a superseded refresh secret was presented. The
	// session has been revoked.
	ErrRefreshReuse = errors.New("session: refresh token reuse")
	// ErrUnavailable wraps Redis failures.
	ErrUnavailable = errors.New("session: backend unavailable")
)

const (
	fieldBody    = "body"
	fieldRefresh = "refresh"
	fieldAccount = "account"
)

const (
	rotateMissing int64 = 0
	rotateOK      int64 = 1
	rotateReuse   int64 = 2
)

// KEYS[1] session key
// ARGV[1] presented refresh hash, ARGV[2] next refresh hash
// ARGV[3] account index prefix, ARGV[4] session id
var rotateRefreshLua = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'refresh')
if not current then
  return 0
end
if current ~= ARGV[1] then
  local account = redis.call('HGET', KEYS[1], 'account')
  redis.call('DEL', KEYS[1])
  if account then
    redis.call('SREM', ARGV[3] .. account, ARGV[4])
  end
  return 2
end
redis.call('HSET', KEYS[1], 'refresh', ARGV[2])
return 1
`)

// KEYS[1] session key, ARGV[1] account index prefix, ARGV[2] session id
var deleteSessionLua = redis.NewScript(`
local account = redis.call('HGET', KEYS[1], 'account')
local existed = redis.call('DEL', KEYS[1])
if account then
  redis.call('SREM', ARGV[1] .. account, ARGV[2])
end
return existed
`)

// Store is safe for concurrent use.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore uses prefix to namespace keys; empty means "sess".
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "sess"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) key(id string) string { return s.prefix + ":s:" + id }

func (s *Store) accountPrefix() string { return s.prefix + ":a:" }

func (s *Store) accountKey(accountID string) string { return s.accountPrefix() + accountID }

// Save writes sess and indexes it under its account.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" || sess.AccountID == "" {
		return errors.New("session: id and account required")
	}
	if !sess.ExpiresAt.After(time.Now()) {
		return errors.New("session: already expired")
	}
	body, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	key := s.key(sess.ID)
	idx := s.accountKey(sess.AccountID)
	_, err = s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			fieldBody, body,
			fieldRefresh, hex.EncodeToString(sess.RefreshHash[:]),
			fieldAccount, sess.AccountID,
		)
		p.ExpireAt(ctx, key, sess.ExpiresAt)
		p.SAdd(ctx, idx, sess.ID)
		p.ExpireAt(ctx, idx, sess.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get loads a live session.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	vals, err := s.redis.HMGet(ctx, s.key(id), fieldBody, fieldRefresh).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	body, _ := vals[0].(string)
	refresh, _ := vals[1].(string)
	if body == "" {
		return nil, ErrNotFound
	}

	var sess Session
	if err := json.Unmarshal([]byte(body), &sess); err != nil {
		return nil, fmt.Errorf("session: corrupt record %s: %w", id, err)
	}
	if raw, err := hex.DecodeString(refresh); err == nil && len(raw) == len(sess.RefreshHash) {
		copy(sess.RefreshHash[:], raw)
	}
	if !sess.ExpiresAt.After(time.Now()) {
		return nil, ErrNotFound
	}
	return &sess, nil
}

// Rotate swaps the refresh hash if presented matches the stored one.
func (s *Store) Rotate(ctx context.Context, id string, presented, next [32]byte) error {
	res, err := rotateRefreshLua.Run(ctx, s.redis,
		[]string{s.key(id)},
		hex.EncodeToString(presented[:]),
		hex.EncodeToString(next[:]),
		s.accountPrefix(),
		id,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch res {
	case rotateOK:
		return nil
	case rotateReuse:
		return ErrRefreshReuse
	default:
		return ErrNotFound
	}
}

// Delete revokes one session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := deleteSessionLua.Run(ctx, s.redis, []string{s.key(id)}, s.accountPrefix(), id).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteAccount revokes every session of accountID except keep, returning
// the number revoked.
func (s *Store) DeleteAccount(ctx context.Context, accountID, keep string) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n := 0
	for _, id := range ids {
		if id == keep {
			continue
		}
		if err := s.Delete(ctx, id); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Count returns the number of indexed sessions for accountID.
func (s *Store) Count(ctx context.Context, accountID string) (int64, error) {
	n, err := s.redis.SCard(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authflow/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureNextSecret
	RefreshFailureReuse
	RefreshFailureSessionNotFound
	RefreshFailureRotate
	RefreshFailureAccount
	RefreshFailureIssue
)

// RefreshResult carries either the rotated session or failure metadata.
type RefreshResult struct {
	Failure   RefreshFailureKind
	Err       error
	SessionID string
	Session   *session.Session
	// NextSecret is the raw refresh secret to hand back to the client.
	NextSecret [32]byte
}

type RefreshSessionStore interface {
	Rotate(ctx context.Context, id string, presented, next [32]byte) error
	Get(ctx context.Context, id string) (*session.Session, error)
	Delete(ctx context.Context, id string) error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	DecodeRefreshToken func(string) (string, [32]byte, error)
	NewRefreshSecret   func() ([32]byte, error)
	HashRefreshSecret  func([32]byte) [32]byte
	// CheckAccount rejects sessions whose account can no longer sign in.
	CheckAccount func(ctx context.Context, accountID string) error
	SessionStore RefreshSessionStore
}

// RunRefresh rotates the refresh secret of the session named by the token.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	sessionID, presented, err := deps.DecodeRefreshToken(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}

	next, err := deps.NewRefreshSecret()
	if err != nil {
		return RefreshResult{Failure: RefreshFailureNextSecret, Err: err, SessionID: sessionID}
	}

	err = deps.SessionStore.Rotate(ctx, sessionID, deps.HashRefreshSecret(presented), deps.HashRefreshSecret(next))
	switch {
	case err == nil:
	case errors.Is(err, session.ErrRefreshReuse):
		return RefreshResult{Failure: RefreshFailureReuse, Err: err, SessionID: sessionID}
	case errors.Is(err, session.ErrNotFound):
		return RefreshResult{Failure: RefreshFailureSessionNotFound, Err: err, SessionID: sessionID}
	default:
		return RefreshResult{Failure: RefreshFailureRotate, Err: err, SessionID: sessionID}
	}

	sess, err := deps.SessionStore.Get(ctx, sessionID)
	if err != nil {
		kind := RefreshFailureRotate
		if errors.Is(err, session.ErrNotFound) {
			kind = RefreshFailureSessionNotFound
		}
		return RefreshResult{Failure: kind, Err: err, SessionID: sessionID}
	}

	if deps.CheckAccount != nil {
		if err := deps.CheckAccount(ctx, sess.AccountID); err != nil {
			_ = deps.SessionStore.Delete(ctx, sessionID)
			return RefreshResult{Failure: RefreshFailureAccount, Err: err, SessionID: sessionID}
		}
	}

	return RefreshResult{SessionID: sessionID, Session: sess, NextSecret: next}
}

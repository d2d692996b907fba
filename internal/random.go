package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// SessionID is 128 random bits rendered as unpadded base64url.
type SessionID [16]byte

const (
	refreshSecretSize   = 32
	refreshTokenRawSize = len(SessionID{}) + refreshSecretSize
)

// ErrMalformedToken is returned for refresh tokens of the wrong shape.
var ErrMalformedToken = errors.New("malformed refresh token")

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(v string) (SessionID, error) {
	var sid SessionID
	raw, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil || len(raw) != len(sid) {
		return sid, ErrMalformedToken
	}
	copy(sid[:], raw)
	return sid, nil
}

// RefreshSecret is the random half of a refresh token. Only its hash is stored.
type RefreshSecret [refreshSecretSize]byte

func NewRefreshSecret() (RefreshSecret, error) {
	var s RefreshSecret
	_, err := rand.Read(s[:])
	return s, err
}

func (s RefreshSecret) Hash() [32]byte {
	return sha256.Sum256(s[:])
}

// EncodeRefreshToken packs session id and secret into one opaque string.
func EncodeRefreshToken(sessionID string, secret RefreshSecret) (string, error) {
	sid, err := ParseSessionID(sessionID)
	if err != nil {
		return "", err
	}
	raw := make([]byte, 0, refreshTokenRawSize)
	raw = append(raw, sid[:]...)
	raw = append(raw, secret[:]...)
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func DecodeRefreshToken(token string) (string, RefreshSecret, error) {
	var secret RefreshSecret
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != refreshTokenRawSize {
		return "", secret, ErrMalformedToken
	}
	var sid SessionID
	copy(sid[:], raw[:len(sid)])
	copy(secret[:], raw[len(sid):])
	return sid.String(), secret, nil
}

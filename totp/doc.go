// Package totp generates and verifies RFC 6238 time-based one-time codes and
// issues single-use numeric backup codes.
//
// Code derivation is delegated to github.com/pquerna/otp. The Engine walks the
// configured skew window itself so callers learn which time step matched and
// can reject replays of an already accepted step.
package totp

// Package session persists established sign-in sessions in Redis.
//
// Each session is a Redis hash holding the JSON session body and the SHA-256
// of its current refresh secret, expiring at the session's absolute deadline.
// A per-account set indexes live session ids so password changes and 2FA
// changes can revoke them together.
//
// Refresh rotation is a compare-and-swap in a Lua script. Presenting a stale
// refresh secret deletes the session, since it means the token was copied.
//
// The package does not parse access tokens or decide policy.
package session

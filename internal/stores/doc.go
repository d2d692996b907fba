// Package stores keeps short-lived email one-time code records in Redis.
//
// A record holds the SHA-256 of the issued code, the owning account, an
// attempt counter, and an absolute expiry. Verification runs inside a
// WATCH/MULTI transaction with bounded retry, so concurrent guesses cannot
// both slip under the attempt cap. A matching code deletes the record.
//
// Resend cooldowns are separate keys set with NX and a millisecond TTL.
//
// The package never sees plaintext codes.
package stores

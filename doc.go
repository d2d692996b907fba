// Package authflow is the server side of a wallet sign-in flow: password
// sign-in, mandatory email one-time codes, and an optional authenticator-app
// second factor with single-use backup codes.
//
// [Engine] plays two roles. As an identity provider it checks passwords,
// issues and verifies email codes, and mints sessions (JWT access token plus a
// rotating refresh token backed by Redis). As the second-factor gateway it owns
// each account's TOTP secret, enabled flag, and backup-code pool, and is the
// only component allowed to say whether a second-factor code is good.
//
// Like the hosted auth APIs it mirrors, a successful password check creates a
// session immediately. Deciding when that session may be trusted belongs to
// the client-side state machine in package orchestrator.
//
// Account rows are reached through [AccountStore]; package pgstore provides a
// PostgreSQL implementation. Engine methods are safe for concurrent use after
// [Builder.Build].
package authflow

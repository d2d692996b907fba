// Package middleware adapts authflow session checks to net/http.
//
// [Guard] resolves the bearer token to a live session through
// Engine.GetSession and stores it in the request context. [RequireOwner]
// restricts account-scoped routes to the account's own session.
//
// This package makes no authentication decisions of its own; the Engine
// decides whether a token is valid.
package middleware

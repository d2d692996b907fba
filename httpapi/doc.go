// Package httpapi exposes an authflow Engine over JSON/HTTP.
//
// Public routes cover password sign-in, the email one-time code, and token
// refresh. Everything else needs a bearer access token, and routes under
// /v1/accounts/{accountID} are limited to that account's own sessions.
//
// Failures are written as {"error": code}; the codes are the Code*
// constants. A resend cooldown also carries retry_after in seconds and a
// Retry-After header.
package httpapi

// Package jwt issues and parses the short-lived access tokens that carry an
// established session: account id, session id, and the authentication methods
// that produced it.
package jwt

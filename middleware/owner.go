package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RequireOwner allows the request only when the chi URL parameter param
// names the guarded session's account. It must run after Guard.
func RequireOwner(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := SessionFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			if chi.URLParam(r, param) != s.AccountID {
				writeError(w, r, http.StatusForbidden, "permission_denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

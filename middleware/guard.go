package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/authflow"
	"github.com/go-chi/render"
)

// SessionValidator is satisfied by *authflow.Engine.
type SessionValidator interface {
	GetSession(ctx context.Context, accessToken string) (*authflow.SessionInfo, error)
}

type sessionContextKey struct{}
type tokenContextKey struct{}

// SessionFromContext returns the session Guard attached.
func SessionFromContext(ctx context.Context) (*authflow.SessionInfo, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(*authflow.SessionInfo)
	return s, ok
}

// AccessTokenFromContext returns the bearer token Guard accepted.
func AccessTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenContextKey{}).(string)
	return t
}

// Guard rejects requests without a valid bearer token with 401. Accepted
// requests carry the session, the caller's address, and the session id in
// their context.
func Guard(v SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := authflow.WithClientIP(r.Context(), ClientIP(r))
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || v == nil {
				writeError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			info, err := v.GetSession(ctx, token)
			if err != nil || info == nil {
				writeError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			ctx = context.WithValue(ctx, sessionContextKey{}, info)
			ctx = context.WithValue(ctx, tokenContextKey{}, token)
			ctx = authflow.WithSessionID(ctx, info.SessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP prefers the first X-Forwarded-For hop.
func ClientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": code})
}

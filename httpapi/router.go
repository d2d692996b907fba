package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/internal/observability"
	"github.com/MrEthical07/authflow/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"go.uber.org/zap"
)

// Backend is the Engine surface the API serves. *authflow.Engine
// implements it.
type Backend interface {
	SignInWithPassword(ctx context.Context, email, password string) (*authflow.Session, error)
	SendEmailOneTimeCode(ctx context.Context, email string) (*authflow.EmailCodeDispatch, error)
	VerifyEmailOneTimeCode(ctx context.Context, email, code string) (*authflow.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*authflow.Session, error)
	GetSession(ctx context.Context, accessToken string) (*authflow.SessionInfo, error)
	SignOut(ctx context.Context, accessToken string) error
	UpdatePassword(ctx context.Context, accountID, keepSessionID, newPassword, code string) error

	GetProfile(ctx context.Context, callerAccountID, accountID string) (*authflow.Profile, error)
	GenerateSecret(ctx context.Context, accountID string) (*authflow.SecretSetup, error)
	EnableTwoFactor(ctx context.Context, accountID, secret string) ([]string, error)
	DisableTwoFactor(ctx context.Context, accountID, code string) error
	VerifySecondFactor(ctx context.Context, accountID, code string) (bool, error)
	GenerateBackupCodes(ctx context.Context, accountID, code string) ([]string, error)
}

// Options configure NewRouter. The zero value serves the API without CORS
// or a metrics endpoint.
type Options struct {
	Logger *zap.Logger
	// AllowedOrigins enables CORS for browser clients.
	AllowedOrigins []string
	// Metrics is mounted at GET /metrics when set.
	Metrics http.Handler
	// Ready backs GET /readyz. Nil reports ready.
	Ready func(ctx context.Context) error
	// Timeout bounds each request. Zero means 15s.
	Timeout time.Duration
}

// API holds the handlers.
type API struct {
	backend Backend
	log     *zap.Logger
	ready   func(ctx context.Context) error
}

// NewRouter builds the chi router for backend.
func NewRouter(backend Backend, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	a := &API{backend: backend, log: log, ready: opts.Ready}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(observability.RequestLogger(log))
	r.Use(observability.Recoverer(log))
	r.Use(chimw.Timeout(timeout))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"Retry-After"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", a.handleHealth)
	r.Get("/readyz", a.handleReady)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions/password", a.handlePasswordSignIn)
		r.Post("/sessions/refresh", a.handleRefresh)
		r.Post("/email-codes", a.handleSendEmailCode)
		r.Post("/email-codes/verify", a.handleVerifyEmailCode)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(backend))
			r.Get("/session", a.handleGetSession)
			r.Delete("/session", a.handleSignOut)
			r.Put("/password", a.handleChangePassword)

			r.Route("/accounts/{accountID}", func(r chi.Router) {
				r.Use(middleware.RequireOwner("accountID"))
				r.Get("/profile", a.handleGetProfile)
				r.Post("/two-factor/secret", a.handleGenerateSecret)
				r.Post("/two-factor/enable", a.handleEnableTwoFactor)
				r.Post("/two-factor/disable", a.handleDisableTwoFactor)
				r.Post("/two-factor/verify", a.handleVerifySecondFactor)
				r.Post("/two-factor/backup-codes", a.handleBackupCodes)
			})
		})
	})
	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		if err := a.ready(r.Context()); err != nil {
			a.log.Warn("readiness check failed", zap.Error(err))
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, map[string]string{"status": "unavailable"})
			return
		}
	}
	render.JSON(w, r, map[string]string{"status": "ready"})
}

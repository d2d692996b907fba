package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/httpapi"
	"github.com/MrEthical07/authflow/orchestrator"
	"go.uber.org/zap"
)

// Options configure New.
type Options struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
	// RefreshMargin refreshes the access token this long before it expires
	// when GetSession is called. Zero means 30s.
	RefreshMargin time.Duration
	Now           func() time.Time
}

// Client talks to one authflow server.
type Client struct {
	base   *url.URL
	http   *http.Client
	log    *zap.Logger
	margin time.Duration
	now    func() time.Time

	mu      sync.Mutex
	session *orchestrator.Session

	handlerMu sync.RWMutex
	handler   func(context.Context, orchestrator.SessionEvent)
}

var (
	_ orchestrator.IdentityProvider    = (*Client)(nil)
	_ orchestrator.ProfileStore        = (*Client)(nil)
	_ orchestrator.SecondFactorGateway = (*Client)(nil)
)

// New returns a Client for the server at baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("remote: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported scheme %q", u.Scheme)
	}
	c := &Client{
		base:   u,
		http:   opts.HTTPClient,
		log:    opts.Logger,
		margin: opts.RefreshMargin,
		now:    opts.Now,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.margin <= 0 {
		c.margin = 30 * time.Second
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// OnSessionEvent sets the handler for FreshSignIn and TokenRefresh events.
// It is called synchronously, after the session has been stored.
func (c *Client) OnSessionEvent(fn func(context.Context, orchestrator.SessionEvent)) {
	c.handlerMu.Lock()
	c.handler = fn
	c.handlerMu.Unlock()
}

func (c *Client) emit(ctx context.Context, kind orchestrator.EventKind, s *orchestrator.Session) {
	c.handlerMu.RLock()
	fn := c.handler
	c.handlerMu.RUnlock()
	if fn == nil {
		return
	}
	cp := *s
	fn(ctx, orchestrator.SessionEvent{Kind: kind, Session: &cp})
}

func (c *Client) current() *orchestrator.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	cp := *c.session
	return &cp
}

func (c *Client) store(s *orchestrator.Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func (c *Client) token() (string, error) {
	s := c.current()
	if s == nil {
		return "", fmt.Errorf("%w: no session", orchestrator.ErrNotAuthorized)
	}
	return s.AccessToken, nil
}

func convert(s *authflow.Session) *orchestrator.Session {
	return &orchestrator.Session{
		ID:           s.SessionID,
		AccountID:    s.AccountID,
		Email:        s.Email,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.AccessExpiresAt,
		Method:       s.Method,
	}
}

func accountPath(accountID, suffix string) string {
	return "/v1/accounts/" + url.PathEscape(accountID) + suffix
}

// do sends one request. body and out may be nil. A non-2xx answer is
// returned as an error from decodeError.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) signIn(ctx context.Context, path string, body any) (*orchestrator.Session, error) {
	var out authflow.Session
	if err := c.do(ctx, http.MethodPost, path, "", body, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" || out.AccountID == "" {
		return nil, errors.New("remote: sign-in response without a session")
	}
	s := convert(&out)
	c.store(s)
	c.emit(ctx, orchestrator.FreshSignIn, s)
	return c.current(), nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*orchestrator.Session, error) {
	return c.signIn(ctx, "/v1/sessions/password", httpapi.PasswordSignInRequest{Email: email, Password: password})
}

func (c *Client) VerifyEmailOneTimeCode(ctx context.Context, email, code string) (*orchestrator.Session, error) {
	return c.signIn(ctx, "/v1/email-codes/verify", httpapi.EmailCodeVerifyRequest{Email: email, Code: code})
}

func (c *Client) SendEmailOneTimeCode(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/v1/email-codes", "", httpapi.EmailCodeRequest{Email: email}, nil)
}

// SignOut forgets the session, then revokes it on the server. A session the
// server no longer knows is not an error.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	err := c.do(ctx, http.MethodDelete, "/v1/session", s.AccessToken, nil, nil)
	if errors.Is(err, orchestrator.ErrNotAuthorized) {
		return nil
	}
	return err
}

// RevokeSession signs s out on the server. The client's own session is kept
// unless it is s.
func (c *Client) RevokeSession(ctx context.Context, s *orchestrator.Session) error {
	if s == nil {
		return nil
	}
	c.mu.Lock()
	if c.session != nil && c.session.ID == s.ID {
		c.session = nil
	}
	c.mu.Unlock()
	err := c.do(ctx, http.MethodDelete, "/v1/session", s.AccessToken, nil, nil)
	if errors.Is(err, orchestrator.ErrNotAuthorized) {
		return nil
	}
	return err
}

// GetSession returns the current session, refreshing it first when the
// access token is about to expire. It returns nil, nil when signed out.
func (c *Client) GetSession(ctx context.Context) (*orchestrator.Session, error) {
	s := c.current()
	if s == nil {
		return nil, nil
	}
	if s.RefreshToken == "" || c.now().Add(c.margin).Before(s.ExpiresAt) {
		return s, nil
	}
	return c.Refresh(ctx)
}

// Refresh rotates the refresh token. A rejected refresh token ends the
// session locally.
func (c *Client) Refresh(ctx context.Context) (*orchestrator.Session, error) {
	s := c.current()
	if s == nil || s.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no session", orchestrator.ErrNotAuthorized)
	}
	var out authflow.Session
	err := c.do(ctx, http.MethodPost, "/v1/sessions/refresh", "", httpapi.RefreshRequest{RefreshToken: s.RefreshToken}, &out)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNotAuthorized) {
			c.mu.Lock()
			if c.session != nil && c.session.ID == s.ID {
				c.session = nil
			}
			c.mu.Unlock()
			c.log.Warn("refresh rejected, session dropped", zap.String("session_id", s.ID), zap.Error(err))
		}
		return nil, err
	}
	next := convert(&out)
	if next.Email == "" {
		next.Email = s.Email
	}
	c.mu.Lock()
	if c.session == nil || c.session.ID != s.ID {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: session replaced during refresh", orchestrator.ErrNotAuthorized)
	}
	c.session = next
	c.mu.Unlock()
	c.emit(ctx, orchestrator.TokenRefresh, next)
	return c.current(), nil
}

// UpdatePassword changes the password. code is required by the server when
// the account has two-factor enabled.
func (c *Client) UpdatePassword(ctx context.Context, newPassword, code string) error {
	tok, err := c.token()
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, "/v1/password", tok, httpapi.PasswordChangeRequest{NewPassword: newPassword, Code: code}, nil)
}

func (c *Client) GetProfile(ctx context.Context, accountID string) (*orchestrator.Profile, error) {
	tok, err := c.token()
	if err != nil {
		return nil, err
	}
	var p authflow.Profile
	if err := c.do(ctx, http.MethodGet, accountPath(accountID, "/profile"), tok, nil, &p); err != nil {
		return nil, err
	}
	return &orchestrator.Profile{
		AccountID:            p.AccountID,
		Email:                p.Email,
		DisplayName:          p.DisplayName,
		KYCStatus:            p.KYCStatus,
		TwoFactorEnabled:     p.TwoFactorEnabled,
		BackupCodesRemaining: p.BackupCodesRemaining,
	}, nil
}

func (c *Client) GenerateSecret(ctx context.Context, accountID string) (*orchestrator.TwoFactorSetup, error) {
	tok, err := c.token()
	if err != nil {
		return nil, err
	}
	var out authflow.SecretSetup
	if err := c.do(ctx, http.MethodPost, accountPath(accountID, "/two-factor/secret"), tok, nil, &out); err != nil {
		return nil, err
	}
	return &orchestrator.TwoFactorSetup{Secret: out.Secret, URI: out.URI}, nil
}

func (c *Client) EnableTwoFactor(ctx context.Context, accountID, secret string) ([]string, error) {
	tok, err := c.token()
	if err != nil {
		return nil, err
	}
	var out httpapi.BackupCodesResponse
	err = c.do(ctx, http.MethodPost, accountPath(accountID, "/two-factor/enable"), tok, httpapi.EnableTwoFactorRequest{Secret: secret}, &out)
	if err != nil {
		return nil, err
	}
	return out.BackupCodes, nil
}

func (c *Client) DisableTwoFactor(ctx context.Context, accountID, code string) error {
	tok, err := c.token()
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, accountPath(accountID, "/two-factor/disable"), tok, httpapi.StepUpRequest{Code: code}, nil)
}

// VerifySecondFactor returns false, nil for a wrong code.
func (c *Client) VerifySecondFactor(ctx context.Context, accountID, code string) (bool, error) {
	tok, err := c.token()
	if err != nil {
		return false, err
	}
	var out httpapi.VerifySecondFactorResponse
	err = c.do(ctx, http.MethodPost, accountPath(accountID, "/two-factor/verify"), tok, httpapi.VerifySecondFactorRequest{Code: code}, &out)
	if err != nil {
		return false, err
	}
	return out.Valid, nil
}

func (c *Client) GenerateBackupCodes(ctx context.Context, accountID, code string) ([]string, error) {
	tok, err := c.token()
	if err != nil {
		return nil, err
	}
	var out httpapi.BackupCodesResponse
	err = c.do(ctx, http.MethodPost, accountPath(accountID, "/two-factor/backup-codes"), tok, httpapi.StepUpRequest{Code: code}, &out)
	if err != nil {
		return nil, err
	}
	return out.BackupCodes, nil
}

package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// maxBody caps request bodies; every request here is a few short fields.
const maxBody = 16 << 10

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := render.DecodeJSON(r.Body, v); err != nil {
		badRequest(w, r)
		return false
	}
	return true
}

// decodeOptional is decode for routes whose body may be omitted.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := render.DecodeJSON(r.Body, v); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, r)
		return false
	}
	return true
}

// clientRequest tags the request context with the caller's address for
// audit records on public routes.
func clientRequest(r *http.Request) *http.Request {
	return r.WithContext(authflow.WithClientIP(r.Context(), middleware.ClientIP(r)))
}

func (a *API) handlePasswordSignIn(w http.ResponseWriter, r *http.Request) {
	var req PasswordSignInRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		badRequest(w, r)
		return
	}
	r = clientRequest(r)
	sess, err := a.backend.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, sess)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decode(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		badRequest(w, r)
		return
	}
	r = clientRequest(r)
	sess, err := a.backend.RefreshSession(r.Context(), req.RefreshToken)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, sess)
}

func (a *API) handleSendEmailCode(w http.ResponseWriter, r *http.Request) {
	var req EmailCodeRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		badRequest(w, r)
		return
	}
	r = clientRequest(r)
	d, err := a.backend.SendEmailOneTimeCode(r.Context(), req.Email)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, EmailCodeResponse{ExpiresIn: seconds(d.ExpiresIn), ResendWait: seconds(d.ResendWait)})
}

func (a *API) handleVerifyEmailCode(w http.ResponseWriter, r *http.Request) {
	var req EmailCodeVerifyRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Code == "" {
		badRequest(w, r)
		return
	}
	r = clientRequest(r)
	sess, err := a.backend.VerifyEmailOneTimeCode(r.Context(), req.Email, req.Code)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, sess)
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.SessionFromContext(r.Context())
	render.JSON(w, r, info)
}

func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := a.backend.SignOut(r.Context(), middleware.AccessTokenFromContext(r.Context())); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordChangeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.NewPassword == "" {
		badRequest(w, r)
		return
	}
	info, _ := middleware.SessionFromContext(r.Context())
	if err := a.backend.UpdatePassword(r.Context(), info.AccountID, info.SessionID, req.NewPassword, req.Code); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	info, _ := middleware.SessionFromContext(r.Context())
	p, err := a.backend.GetProfile(r.Context(), info.AccountID, chi.URLParam(r, "accountID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, p)
}

func (a *API) handleGenerateSecret(w http.ResponseWriter, r *http.Request) {
	setup, err := a.backend.GenerateSecret(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, setup)
}

func (a *API) handleEnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req EnableTwoFactorRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Secret == "" {
		badRequest(w, r)
		return
	}
	codes, err := a.backend.EnableTwoFactor(r.Context(), chi.URLParam(r, "accountID"), req.Secret)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, BackupCodesResponse{BackupCodes: codes})
}

func (a *API) handleDisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req StepUpRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if err := a.backend.DisableTwoFactor(r.Context(), chi.URLParam(r, "accountID"), req.Code); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleVerifySecondFactor(w http.ResponseWriter, r *http.Request) {
	var req VerifySecondFactorRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Code == "" {
		badRequest(w, r)
		return
	}
	ok, err := a.backend.VerifySecondFactor(r.Context(), chi.URLParam(r, "accountID"), req.Code)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, VerifySecondFactorResponse{Valid: ok})
}

func (a *API) handleBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req StepUpRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	codes, err := a.backend.GenerateBackupCodes(r.Context(), chi.URLParam(r, "accountID"), req.Code)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	render.JSON(w, r, BackupCodesResponse{BackupCodes: codes})
}

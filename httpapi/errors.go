package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/MrEthical07/authflow"
	"github.com/go-chi/render"
	"go.uber.org/zap"
)

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{authflow.ErrInvalidCredentials, http.StatusUnauthorized, CodeInvalidCredentials},
	{authflow.ErrAccountDisabled, http.StatusForbidden, CodeAccountDisabled},
	{authflow.ErrAccountLocked, http.StatusLocked, CodeAccountLocked},
	{authflow.ErrAccountNotFound, http.StatusNotFound, CodeAccountNotFound},
	{authflow.ErrLoginRateLimited, http.StatusTooManyRequests, CodeLoginRateLimited},
	{authflow.ErrPasswordPolicy, http.StatusUnprocessableEntity, CodePasswordPolicy},
	{authflow.ErrInvalidCode, http.StatusUnauthorized, CodeInvalidCode},
	{authflow.ErrEmailCodeExpired, http.StatusGone, CodeCodeExpired},
	{authflow.ErrEmailCodeAttemptsExceeded, http.StatusGone, CodeCodeAttemptsExceeded},
	{authflow.ErrCodeDeliveryFailed, http.StatusBadGateway, CodeCodeDeliveryFailed},
	{authflow.ErrSessionNotFound, http.StatusUnauthorized, CodeSessionNotFound},
	{authflow.ErrTokenInvalid, http.StatusUnauthorized, CodeUnauthorized},
	{authflow.ErrRefreshInvalid, http.StatusUnauthorized, CodeRefreshInvalid},
	{authflow.ErrRefreshReuse, http.StatusUnauthorized, CodeRefreshReused},
	{authflow.ErrPermissionDenied, http.StatusForbidden, CodePermissionDenied},
	{authflow.ErrTwoFactorAlreadyEnabled, http.StatusConflict, CodeTwoFactorAlreadyEnabled},
	{authflow.ErrTwoFactorNotEnabled, http.StatusConflict, CodeTwoFactorNotEnabled},
	{authflow.ErrTwoFactorNotConfigured, http.StatusConflict, CodeTwoFactorNotConfigured},
	{authflow.ErrTwoFactorSecretMismatch, http.StatusConflict, CodeTwoFactorSecretMismatch},
	{authflow.ErrSecondFactorRateLimited, http.StatusTooManyRequests, CodeSecondFactorRateLimited},
	{authflow.ErrStepUpRequired, http.StatusForbidden, CodeStepUpRequired},
	{authflow.ErrStepUpFailed, http.StatusForbidden, CodeStepUpFailed},
	{authflow.ErrBackendUnavailable, http.StatusServiceUnavailable, CodeBackendUnavailable},
	{authflow.ErrEngineNotReady, http.StatusServiceUnavailable, CodeBackendUnavailable},
}

// writeError maps err onto a status and code. Unmapped errors are logged
// and reported as 500.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var cd *authflow.CooldownError
	if errors.As(err, &cd) {
		w.Header().Set("Retry-After", strconv.Itoa(seconds(cd.RetryAfter)))
		render.Status(r, http.StatusTooManyRequests)
		render.JSON(w, r, ErrorBody{Error: CodeEmailCodeCooldown, RetryAfter: seconds(cd.RetryAfter)})
		return
	}
	for _, row := range errorTable {
		if errors.Is(err, row.err) {
			render.Status(r, row.status)
			render.JSON(w, r, ErrorBody{Error: row.code})
			return
		}
	}
	a.log.Error("unmapped handler error", zap.String("path", r.URL.Path), zap.Error(err))
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, ErrorBody{Error: CodeInternal})
}

func badRequest(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorBody{Error: CodeBadRequest})
}

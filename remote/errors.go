package remote

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MrEthical07/authflow/httpapi"
	"github.com/MrEthical07/authflow/orchestrator"
)

// APIError is a non-2xx answer from the server. It unwraps to the matching
// orchestrator error where one exists.
type APIError struct {
	Status int
	Code   string
	kind   error
}

func (e *APIError) Error() string {
	if e.kind != nil {
		return fmt.Sprintf("remote: %s (%d): %v", e.Code, e.Status, e.kind)
	}
	return fmt.Sprintf("remote: %s (%d)", e.Code, e.Status)
}

func (e *APIError) Unwrap() error { return e.kind }

var codeKinds = map[string]error{
	httpapi.CodeInvalidCredentials:      orchestrator.ErrInvalidCredentials,
	httpapi.CodeAccountDisabled:         orchestrator.ErrInvalidCredentials,
	httpapi.CodeAccountLocked:           orchestrator.ErrInvalidCredentials,
	httpapi.CodeAccountNotFound:         orchestrator.ErrInvalidCredentials,
	httpapi.CodeLoginRateLimited:        orchestrator.ErrRateLimited,
	httpapi.CodeSecondFactorRateLimited: orchestrator.ErrRateLimited,
	httpapi.CodeInvalidCode:             orchestrator.ErrInvalidCode,
	httpapi.CodeCodeExpired:             orchestrator.ErrCodeExpired,
	httpapi.CodeCodeAttemptsExceeded:    orchestrator.ErrCodeExpired,
	httpapi.CodeUnauthorized:            orchestrator.ErrNotAuthorized,
	httpapi.CodeSessionNotFound:         orchestrator.ErrNotAuthorized,
	httpapi.CodeRefreshInvalid:          orchestrator.ErrNotAuthorized,
	httpapi.CodeRefreshReused:           orchestrator.ErrNotAuthorized,
	httpapi.CodePermissionDenied:        orchestrator.ErrNotAuthorized,
	httpapi.CodeTwoFactorAlreadyEnabled: orchestrator.ErrTwoFactorAlreadyEnabled,
	httpapi.CodeStepUpRequired:          orchestrator.ErrSecondFactorRequired,
	httpapi.CodeStepUpFailed:            orchestrator.ErrInvalidCode,
}

// decodeError consumes resp's body. Codes without an orchestrator
// counterpart, and bodies that are not JSON, stay transient.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var body httpapi.ErrorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		return &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
	}
	if body.Error == httpapi.CodeEmailCodeCooldown {
		return &orchestrator.CooldownError{Remaining: time.Duration(body.RetryAfter) * time.Second}
	}
	return &APIError{Status: resp.StatusCode, Code: body.Error, kind: codeKinds[body.Error]}
}

package remote

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
)

// envelope is the { success, data, error } wrapper every endpoint returns.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error,omitempty"`
}

func (e envelope) errorMessage() string {
	raw := strings.TrimSpace(string(e.Error))
	if raw == "" || raw == "null" {
		return ""
	}
	var msg string
	if err := json.Unmarshal(e.Error, &msg); err == nil {
		return msg
	}
	var obj struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(e.Error, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return raw
}

// classifyStatus maps a non-2xx response onto the error taxonomy. Gateway
// failures count as the service being unreachable.
func classifyStatus(op string, status int, message string) *pkgerrors.Error {
	if message == "" {
		message = http.StatusText(status)
	}
	cause := fmt.Errorf("status %d: %s", status, message)
	msg := op + " failed"
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, cause, message)
	case status == http.StatusUnauthorized:
		return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, cause, msg)
	case status == http.StatusForbidden:
		return pkgerrors.Wrap(pkgerrors.CodeForbidden, cause, msg)
	case status == http.StatusNotFound:
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, cause, msg)
	case status == http.StatusConflict:
		return pkgerrors.Wrap(pkgerrors.CodeConflict, cause, message)
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable, status == http.StatusGatewayTimeout:
		return pkgerrors.Network(cause, msg)
	case status >= 500:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, cause, msg)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, cause, msg)
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if pkgerrors.IsNetwork(err) {
		return "network"
	}
	if typed := pkgerrors.As(err); typed != nil {
		return strings.ToLower(string(typed.Code()))
	}
	return "error"
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/trustmesh/internal/agents"
	"github.com/xela07ax/trustmesh/internal/domain"
	"github.com/xela07ax/trustmesh/internal/engine"
)

type errorBody struct {
	Error    string `json:"error"`
	Kind     string `json:"kind,omitempty"`
	Required *int   `json:"required_level,omitempty"`
	Actual   *int   `json:"actual_level,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor переводит таксономию ошибок ядра в HTTP-коды.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInsufficientTrust), errors.Is(err, agents.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrUnknownAction), errors.Is(err, domain.ErrUnknownTargetActor):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownEventType), errors.Is(err, agents.ErrInvalidParam):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAccountFrozen):
		return http.StatusLocked
	case errors.Is(err, domain.ErrRouteTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	body := errorBody{
		Error:   err.Error(),
		Kind:    domain.ErrorKind(err),
		TraceID: engine.TraceIDFrom(r.Context()),
	}
	// Текст внутренних ошибок наружу не отдаем: подробности в аудите по trace_id
	if code == http.StatusInternalServerError {
		body.Error = "action failed"
	}
	var te *domain.TrustError
	if errors.As(err, &te) {
		body.Required = &te.Required
		body.Actual = &te.Actual
	}
	writeJSON(w, code, body)
}

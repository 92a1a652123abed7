package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/trustmesh/internal/console/service"
	"github.com/xela07ax/trustmesh/internal/engine"
)

const maxBodyBytes = 1 << 20

type ActionHandler struct {
	service *service.ActionService
	logger  *zap.Logger
}

func NewActionHandler(s *service.ActionService, logger *zap.Logger) *ActionHandler {
	return &ActionHandler{service: s, logger: logger.Named("actions")}
}

type invokeRequest struct {
	Params        map[string]any `json:"params"`
	MinTrustLevel int            `json:"min_trust_level"`
}

type invokeResponse struct {
	Data    map[string]any `json:"data"`
	TraceID string         `json:"trace_id"`
}

// Invoke проводит вызов действия через конверт.
// POST /v1/actors/{actorID}/actions/{action}
func (h *ActionHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	actorID := chi.URLParam(r, "actorID")
	action := chi.URLParam(r, "action")

	var req invokeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	res, err := h.service.Invoke(r.Context(), actorID, action, req.Params, req.MinTrustLevel)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error("action failed",
				zap.String("actor_id", actorID),
				zap.String("action", action),
				zap.String("trace_id", engine.TraceIDFrom(r.Context())),
				zap.Error(err))
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invokeResponse{Data: res.Data, TraceID: engine.TraceIDFrom(r.Context())})
}

// List — каталог акторов и их действий.
// GET /v1/actors
func (h *ActionHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Actors())
}

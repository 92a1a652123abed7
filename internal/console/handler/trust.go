package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/trustmesh/internal/console/service"
)

type TrustHandler struct {
	service *service.TrustService
}

func NewTrustHandler(s *service.TrustService) *TrustHandler {
	return &TrustHandler{service: s}
}

// Get возвращает состояние доверия принципала. Для неизвестного принципала пустая запись уровня 1.
// GET /v1/principals/{id}/trust
func (h *TrustHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

package handler

import (
	"context"
	"net/http"

	"github.com/xela07ax/trustmesh/internal/agents"
	"github.com/xela07ax/trustmesh/internal/domain"
	"github.com/xela07ax/trustmesh/internal/infra/auth"
)

// DashboardProvider — сводка для операторов (postgres.DashboardRepo).
type DashboardProvider interface {
	Dashboard(ctx context.Context) (*domain.Dashboard, error)
}

type DashboardHandler struct {
	provider DashboardProvider
}

func NewDashboardHandler(p DashboardProvider) *DashboardHandler {
	return &DashboardHandler{provider: p}
}

// GET /v1/dashboard
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	if id, _ := auth.IdentityFrom(r.Context()); !id.HasPermission(agents.PermissionReview) {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "review permission required"})
		return
	}
	d, err := h.provider.Dashboard(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/trustmesh/internal/agents"
	"github.com/xela07ax/trustmesh/internal/audit"
	"github.com/xela07ax/trustmesh/internal/console/service"
	"github.com/xela07ax/trustmesh/internal/infra/auth"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(s *service.AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetRecords возвращает записи аудита, новые первыми.
// Без права review принципал видит только свои вызовы.
// GET /v1/audit?actor_id=...&principal_id=...&action=...&request_id=...&success=...&since=...&until=...&limit=...
func (h *AuditHandler) GetRecords(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "identity required"})
		return
	}
	if !id.HasPermission(agents.PermissionReview) {
		f.PrincipalID = id.PrincipalID
	}

	recs, err := h.service.FetchRecords(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		ActorID:     q.Get("actor_id"),
		PrincipalID: q.Get("principal_id"),
		Action:      q.Get("action"),
		RequestID:   q.Get("request_id"),
	}
	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, err
		}
		f.Success = &b
	}
	for key, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, err
			}
			*dst = t
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, err
		}
		f.Limit = n
	}
	return f, nil
}

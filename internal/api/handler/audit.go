package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tutorlane/payroll-engine/internal/models"
	"github.com/tutorlane/payroll-engine/internal/service"
)

// AuditHandler serves read access to the audit ledger.
type AuditHandler struct {
	svc *service.AuditService
}

func NewAuditHandler(svc *service.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// ByEntity lists the ledger for one entity, newest first.
func (h *AuditHandler) ByEntity(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	entries, err := h.svc.ByEntity(r.Context(), chi.URLParam(r, "entityType"), chi.URLParam(r, "entityID"), limit, offset)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ByActor lists everything one actor did, newest first.
func (h *AuditHandler) ByActor(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	entries, err := h.svc.ByActor(r.Context(), chi.URLParam(r, "actor"), limit, offset)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Search filters the ledger by entity, actor, action and time range.
func (h *AuditHandler) Search(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	f := models.AuditFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Actor:      q.Get("actor"),
		Action:     q.Get("action"),
		Limit:      limit,
		Offset:     offset,
	}
	if v := q.Get("from"); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "validation", "from must be RFC 3339")
			return
		}
		f.From = &from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "validation", "to must be RFC 3339")
			return
		}
		f.To = &to
	}

	entries, err := h.svc.Search(r.Context(), f)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Statistics summarizes ledger activity over a date range.
func (h *AuditHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "from must be RFC 3339")
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "to must be RFC 3339")
		return
	}

	stats, err := h.svc.Statistics(r.Context(), from, to)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, stats)
}

func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	var err error
	if limit, err = queryInt(r, "limit", "100"); err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "limit must be an integer")
		return 0, 0, false
	}
	if offset, err = queryInt(r, "offset", "0"); err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "offset must be an integer")
		return 0, 0, false
	}
	return limit, offset, true
}

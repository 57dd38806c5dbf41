package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tutorlane/payroll-engine/internal/models"
	"github.com/tutorlane/payroll-engine/internal/service"
)

// InvoiceHandler serves the invoice aggregate API.
type InvoiceHandler struct {
	svc *service.InvoiceService
}

func NewInvoiceHandler(svc *service.InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{svc: svc}
}

// Get returns one invoice by id.
func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "invalid invoice id")
		return
	}
	inv, err := h.svc.Get(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, inv)
}

// List returns invoices narrowed by teacher, period and status filters.
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	var f models.InvoiceFilter
	q := r.URL.Query()

	if v := q.Get("teacher_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "validation", "invalid teacher_id")
			return
		}
		f.TeacherID = &id
	}
	if v := q.Get("month"); v != "" {
		month, err := queryInt(r, "month", "")
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "validation", "month must be an integer")
			return
		}
		f.Month = &month
	}
	if v := q.Get("year"); v != "" {
		year, err := queryInt(r, "year", "")
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "validation", "year must be an integer")
			return
		}
		f.Year = &year
	}
	f.Status = q.Get("status")

	var err error
	if f.Limit, err = queryInt(r, "limit", "50"); err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "limit must be an integer")
		return
	}
	if f.Offset, err = queryInt(r, "offset", "0"); err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "offset must be an integer")
		return
	}

	invoices, err := h.svc.List(r.Context(), f)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

type createInvoiceRequest struct {
	TeacherID uuid.UUID `json:"teacher_id"`
	Month     int       `json:"month"`
	Year      int       `json:"year"`
}

// Create builds a draft invoice for one teacher and period.
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inv, err := h.svc.Create(r.Context(), req.TeacherID, req.Month, req.Year, requestActor(r))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, inv)
}

type addBonusRequest struct {
	Source    string          `json:"source"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	Reason    string          `json:"reason,omitempty"`
}

func (h *InvoiceHandler) AddBonus(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "invalid invoice id")
		return
	}
	var req addBonusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inv, err := h.svc.AddBonus(r.Context(), id, req.Source, req.AmountUSD, req.Reason, requestActor(r))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, inv)
}

func (h *InvoiceHandler) RemoveBonus(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "invalid invoice id")
		return
	}
	entryID, err := uuidParam(r, "entryID")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "invalid ledger entry id")
		return
	}
	inv, err := h.svc.RemoveBonus(r.Context(), id, entryID, r.URL.Query().Get("reason"), requestActor(r))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, inv)
}

type addExtraRequest struct {
	Category  string          `json:"category"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	Reason    string          `json:"reason,omitempty"`
}

func (h *InvoiceHandler) AddExtra(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "invalid invoice id")
		return
	}
	var req addExtraRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inv, err := h.svc.AddExtra(r.Context(), id, req.Category, req.AmountUSD, req.Reason, requestActor(r))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, inv)
}

func (h *InvoiceHandler) RemoveExtra(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "invalid invoice id")
		return
	}
	entryID, err := uuidParam(r, "entryID")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "invalid ledger entry id")
		return
	}
	inv, err := h.svc.RemoveExtra(r.Context(), id, entryID, r.URL.Query().Get("reason"), requestActor(r))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, inv)
}

type setOverridesRequest struct {
	Overrides models.InvoiceOverrides `json:"overrides"`
	Reason    string                  `json:"reason,omitempty"`
}

func (h *InvoiceHandler) SetOverrides(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "invalid invoice id")
		return
	}
	var req setOverridesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inv, err := h.svc.SetOverrides(r.Context(), id, req.Overrides, req.Reason, requestActor(r))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, inv)
}

func (h *InvoiceHandler) Publish(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "invalid invoice id")
		return
	}
	inv, err := h.svc.Publish(r.Context(), id, requestActor(r))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, inv)
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *InvoiceHandler) Unpublish(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "invalid invoice id")
		return
	}
	var req reasonRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inv, err := h.svc.Unpublish(r.Context(), id, req.Reason, requestActor(r))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, inv)
}

type markPaidRequest struct {
	Method        string `json:"method"`
	TransactionID string `json:"transaction_id,omitempty"`
}

func (h *InvoiceHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "invalid invoice id")
		return
	}
	var req markPaidRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inv, err := h.svc.MarkPaid(r.Context(), id, req.Method, req.TransactionID, requestActor(r))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, inv)
}

func (h *InvoiceHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "invalid invoice id")
		return
	}
	var req reasonRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inv, err := h.svc.Archive(r.Context(), id, req.Reason, requestActor(r))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, inv)
}

func (h *InvoiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "invalid invoice id")
		return
	}
	inv, err := h.svc.SoftDelete(r.Context(), id, r.URL.Query().Get("reason"), requestActor(r))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, inv)
}

func (h *InvoiceHandler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "invalid invoice id")
		return
	}
	var req reasonRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	inv, err := h.svc.CreateAdjustment(r.Context(), id, req.Reason, requestActor(r))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, inv)
}

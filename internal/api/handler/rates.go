package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tutorlane/payroll-engine/internal/models"
	"github.com/tutorlane/payroll-engine/internal/service"
)

// RatesHandler serves the currency reconciliation API.
type RatesHandler struct {
	svc *service.CurrencyService
}

func NewRatesHandler(svc *service.CurrencyService) *RatesHandler {
	return &RatesHandler{svc: svc}
}

func ratePathParams(r *http.Request) (base, target string, year, month int, err error) {
	base = chi.URLParam(r, "base")
	target = chi.URLParam(r, "target")
	if year, err = intParam(r, "year"); err != nil {
		return
	}
	month, err = intParam(r, "month")
	return
}

// Get returns the period record, creating an empty one on first access.
func (h *RatesHandler) Get(w http.ResponseWriter, r *http.Request) {
	base, target, year, month, err := ratePathParams(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "year and month must be integers")
		return
	}
	rate, err := h.svc.GetOrCreate(r.Context(), base, target, month, year)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"rate":        rate,
		"recommended": service.Recommend(rate),
	})
}

type addSourceRequest struct {
	SourceName  string          `json:"source_name"`
	Rate        decimal.Decimal `json:"rate"`
	Reliability string          `json:"reliability"`
}

// AddSource upserts one source quote by name.
func (h *RatesHandler) AddSource(w http.ResponseWriter, r *http.Request) {
	base, target, year, month, err := ratePathParams(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "year and month must be integers")
		return
	}
	var req addSourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rate, err := h.svc.AddSource(r.Context(), base, target, month, year, models.RateQuote{
		SourceName:  req.SourceName,
		Rate:        req.Rate,
		Reliability: req.Reliability,
	}, requestActor(r))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, rate)
}

type setActiveRateRequest struct {
	Value  decimal.Decimal `json:"value"`
	Source string          `json:"source"`
	Note   string          `json:"note,omitempty"`
}

// SetActive records the admin's explicit active-rate selection.
func (h *RatesHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	base, target, year, month, err := ratePathParams(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "year and month must be integers")
		return
	}
	var req setActiveRateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rate, err := h.svc.SetActiveRate(r.Context(), base, target, month, year, req.Value, req.Source, req.Note, requestActor(r))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, rate)
}

// Convert translates an amount between currencies for the period.
func (h *RatesHandler) Convert(w http.ResponseWriter, r *http.Request) {
	base, target, year, month, err := ratePathParams(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "year and month must be integers")
		return
	}
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "validation", "amount must be a decimal number")
		return
	}

	converted, err := h.svc.Convert(r.Context(), amount, base, target, month, year)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"amount":    amount,
		"converted": converted,
		"base":      base,
		"target":    target,
	})
}

type refreshRequest struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// Refresh pulls quotes for every known pair from all configured sources.
func (h *RatesHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	report, err := h.svc.BulkRefresh(r.Context(), req.Month, req.Year, requestActor(r))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, report)
}

package handler

import (
	"net/http"

	"github.com/tutorlane/payroll-engine/internal/service"
)

// GenerationHandler triggers the monthly batch on demand.
type GenerationHandler struct {
	svc *service.GenerationService
}

func NewGenerationHandler(svc *service.GenerationService) *GenerationHandler {
	return &GenerationHandler{svc: svc}
}

type generateRequest struct {
	Month  int  `json:"month"`
	Year   int  `json:"year"`
	DryRun bool `json:"dry_run,omitempty"`
}

// Generate runs (or previews, with dry_run) the batch for one period. A
// run already holding the period lock yields 409.
func (h *GenerationHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.svc.Generate(r.Context(), req.Month, req.Year, service.GenerationOptions{
		Actor:  requestActor(r),
		DryRun: req.DryRun,
	})
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

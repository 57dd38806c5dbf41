package handler

import (
	"net/http"

	"github.com/tutorlane/payroll-engine/internal/models"
	"github.com/tutorlane/payroll-engine/internal/service"
)

// SettingsHandler serves the singleton salary settings.
type SettingsHandler struct {
	svc *service.SettingsService
}

func NewSettingsHandler(svc *service.SettingsService) *SettingsHandler {
	return &SettingsHandler{svc: svc}
}

// Get returns the settings, creating the default row on first access.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	settings, err := h.svc.Get(r.Context())
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, settings)
}

type updateSettingsRequest struct {
	RateModel          *string                 `json:"rate_model,omitempty"`
	RatePartitions     *[]models.RatePartition `json:"rate_partitions,omitempty"`
	DefaultTransferFee *models.TransferFee     `json:"default_transfer_fee,omitempty"`
	Note               string                  `json:"note,omitempty"`
}

type updateSettingsResponse struct {
	Settings *models.SalarySettings `json:"settings"`
	Warnings []string               `json:"warnings,omitempty"`
}

// Update applies admin changes. Partition table problems come back as
// warnings alongside the saved settings.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	settings, warnings, err := h.svc.Update(r.Context(), service.SettingsUpdate{
		RateModel:          req.RateModel,
		RatePartitions:     req.RatePartitions,
		DefaultTransferFee: req.DefaultTransferFee,
		Note:               req.Note,
	}, requestActor(r))
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, updateSettingsResponse{Settings: settings, Warnings: warnings})
}

type validatePartitionsRequest struct {
	RatePartitions []models.RatePartition `json:"rate_partitions"`
}

// ValidatePartitions checks a candidate partition table without saving it.
func (h *SettingsHandler) ValidatePartitions(w http.ResponseWriter, r *http.Request) {
	var req validatePartitionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	warnings := service.ValidatePartitions(req.RatePartitions)
	RespondJSON(w, http.StatusOK, map[string]any{
		"valid":    len(warnings) == 0,
		"warnings": warnings,
	})
}

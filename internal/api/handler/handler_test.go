package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorlane/payroll-engine/internal/api/problem"
	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/gateway"
	"github.com/tutorlane/payroll-engine/internal/service"
	"github.com/tutorlane/payroll-engine/internal/store/memory"
)

func newTestRouter() chi.Router {
	st := memory.NewStore()
	clock := domain.FixedClock{T: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)}
	audit := service.NewAuditService(st, clock)
	settings := service.NewSettingsService(st, audit, clock)
	currency := service.NewCurrencyService(st, audit, clock, nil, time.Second)
	invoices := service.NewInvoiceService(st, audit, settings, currency,
		gateway.NewMockTeacherDirectory(), gateway.NewMockHourAggregator(), &gateway.MockNotifier{}, clock)

	settingsHandler := NewSettingsHandler(settings)
	invoiceHandler := NewInvoiceHandler(invoices)

	r := chi.NewRouter()
	r.Get("/v1/settings", settingsHandler.Get)
	r.Put("/v1/settings", settingsHandler.Update)
	r.Post("/v1/settings/partitions/validate", settingsHandler.ValidatePartitions)
	r.Get("/v1/invoices/{id}", invoiceHandler.Get)
	return r
}

func TestSettingsRoundTrip(t *testing.T) {
	r := newTestRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/settings", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var settings map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &settings))
	assert.Equal(t, "flat", settings["rate_model"])

	body := bytes.NewBufferString(`{
		"rate_partitions": [
			{"name": "junior", "min_hours": "0", "max_hours": "60", "rate_usd": "12", "is_active": true},
			{"name": "senior", "min_hours": "50", "max_hours": "100", "rate_usd": "15", "is_active": true}
		],
		"note": "initial table"
	}`)
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/v1/settings", body)
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Warnings []string `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// The overlapping table saves, flagged.
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "overlap")
}

func TestUpdateSettingsRejectsBadModel(t *testing.T) {
	r := newTestRouter()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/v1/settings", bytes.NewBufferString(`{"rate_model": "hourly"}`))
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var details problem.Details
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &details))
	assert.Contains(t, details.Type, "validation")
	assert.Equal(t, http.StatusBadRequest, details.Status)
}

func TestGetInvoiceErrors(t *testing.T) {
	r := newTestRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/invoices/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/invoices/6e8bc430-9c3a-11d9-9669-0800200c9a66", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRespondDomainErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrValidation, http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidStateTransition, http.StatusConflict},
		{domain.ErrConcurrencyConflict, http.StatusConflict},
		{domain.ErrUpstreamUnavailable, http.StatusBadGateway},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		RespondDomainError(rec, req, fmt.Errorf("wrapped: %w", c.err))
		assert.Equal(t, c.status, rec.Code, "error %v", c.err)
	}
}

package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tutorlane/payroll-engine/internal/api/middleware"
	"github.com/tutorlane/payroll-engine/internal/api/problem"
	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/service"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// RespondDomainError maps the domain error taxonomy onto HTTP problems.
func RespondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		RespondError(w, r, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		RespondError(w, r, http.StatusNotFound, "not-found", err.Error())
	case errors.Is(err, domain.ErrInvalidStateTransition):
		RespondError(w, r, http.StatusConflict, "invalid-state-transition", err.Error())
	case errors.Is(err, domain.ErrConcurrencyConflict):
		RespondError(w, r, http.StatusConflict, "concurrency-conflict", err.Error())
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		RespondError(w, r, http.StatusBadGateway, "upstream-unavailable", err.Error())
	default:
		if status, problemType, message, ok := mapDBError(err); ok {
			RespondError(w, r, status, problemType, message)
			return
		}
		RespondError(w, r, http.StatusInternalServerError, "internal", "unexpected server error")
	}
}

func requestActor(r *http.Request) service.Actor {
	return service.Actor{
		ID:   middleware.UserIDFromContext(r.Context()),
		Role: middleware.UserRoleFromContext(r.Context()),
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "invalid JSON body")
		return false
	}
	return true
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, name))
}

func intParam(r *http.Request, name string) (int, error) {
	return strconv.Atoi(chi.URLParam(r, name))
}

func queryInt(r *http.Request, name, fallback string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		v = fallback
	}
	return strconv.Atoi(v)
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tutorlane/payroll-engine/internal/models"
)

// Store is the persistence contract shared by the Postgres implementation
// (internal/repository) and the in-memory implementation used in tests
// (internal/store/memory).
//
// Update methods are versioned: they compare the record's Version against
// the persisted one and return domain.ErrConcurrencyConflict on a stale
// write, so ledger mutations are always read-modify-write against the
// latest persisted state.
//
// InsertAuditEntry is append-only; the record can never be modified once
// written. The Postgres implementation rejects updates at the storage
// layer with a trigger.
type Store interface {
	// Salary settings singleton.
	GetSettings(ctx context.Context) (*models.SalarySettings, error)
	InsertSettings(ctx context.Context, s *models.SalarySettings) error
	UpdateSettings(ctx context.Context, s *models.SalarySettings) error

	// Currency rates, one record per (base, target, year, month).
	GetRate(ctx context.Context, base, target string, year, month int) (*models.CurrencyRate, error)
	InsertRate(ctx context.Context, r *models.CurrencyRate) error
	UpdateRate(ctx context.Context, r *models.CurrencyRate) error
	ListRatePairs(ctx context.Context) ([]models.CurrencyPair, error)

	// Teacher invoices.
	GetInvoice(ctx context.Context, id uuid.UUID) (*models.TeacherInvoice, error)
	// GetInvoiceForPeriod returns the non-adjustment, non-deleted invoice
	// for the teacher and period, or domain.ErrNotFound.
	GetInvoiceForPeriod(ctx context.Context, teacherID uuid.UUID, month, year int) (*models.TeacherInvoice, error)
	ListInvoices(ctx context.Context, f models.InvoiceFilter) ([]models.TeacherInvoice, error)
	// CountNumberedForPeriod counts invoices that already carry an invoice
	// number for the period. Numbers survive unpublish, so this is the
	// sequence basis for the next assignment.
	CountNumberedForPeriod(ctx context.Context, month, year int) (int64, error)
	CountPublishedForPeriod(ctx context.Context, month, year int) (int64, error)
	InsertInvoice(ctx context.Context, inv *models.TeacherInvoice) error
	UpdateInvoice(ctx context.Context, inv *models.TeacherInvoice) error

	// Audit ledger: append-only, write-once.
	InsertAuditEntry(ctx context.Context, e *models.AuditLogEntry) error
	AuditByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLogEntry, error)
	AuditByActor(ctx context.Context, actor string, limit, offset int) ([]models.AuditLogEntry, error)
	SearchAudit(ctx context.Context, f models.AuditFilter) ([]models.AuditLogEntry, error)
	AuditStatistics(ctx context.Context, from, to time.Time) (*models.AuditStatistics, error)

	// RunInTx executes fn atomically. If fn returns an error every write it
	// performed is rolled back; in particular a failed audit write aborts
	// the mutation it accompanies.
	RunInTx(ctx context.Context, fn func(Store) error) error
}

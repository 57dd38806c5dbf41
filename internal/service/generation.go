package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/gateway"
	"github.com/tutorlane/payroll-engine/internal/lock"
	"github.com/tutorlane/payroll-engine/internal/models"
	"github.com/tutorlane/payroll-engine/internal/observability"
	"github.com/tutorlane/payroll-engine/internal/store"
)

// GenerationOptions tunes one generation run.
type GenerationOptions struct {
	Actor  Actor
	DryRun bool
}

// TeacherOutcome is one teacher's result within a generation run.
type TeacherOutcome struct {
	TeacherID uuid.UUID  `json:"teacher_id"`
	InvoiceID *uuid.UUID `json:"invoice_id,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// GenerationResult reports a full run, teacher by teacher.
type GenerationResult struct {
	Month    int              `json:"month"`
	Year     int              `json:"year"`
	DryRun   bool             `json:"dry_run"`
	Created  []TeacherOutcome `json:"created"`
	Skipped  []TeacherOutcome `json:"skipped"`
	Adjusted []TeacherOutcome `json:"adjusted"`
	Failed   []TeacherOutcome `json:"failed"`
	Summary  string           `json:"summary"`
}

// GenerationService runs the monthly batch: one draft invoice per active
// teacher with billable hours, guarded by a period-scoped distributed
// lock so a manual trigger racing the scheduler cannot double-invoice.
type GenerationService struct {
	store     store.Store
	invoices  *InvoiceService
	audit     *AuditService
	directory gateway.TeacherDirectory
	locker    lock.Locker
	lockTTL   time.Duration
	clock     domain.Clock
}

func NewGenerationService(
	st store.Store,
	invoices *InvoiceService,
	audit *AuditService,
	directory gateway.TeacherDirectory,
	locker lock.Locker,
	lockTTL time.Duration,
	clock domain.Clock,
) *GenerationService {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &GenerationService{
		store:     st,
		invoices:  invoices,
		audit:     audit,
		directory: directory,
		locker:    locker,
		lockTTL:   lockTTL,
		clock:     clock,
	}
}

// Generate runs the batch for one period. A concurrent run for the same
// period is refused outright, never queued. Per-teacher failures are
// recorded and do not abort the rest of the run.
func (s *GenerationService) Generate(ctx context.Context, month, year int, opts GenerationOptions) (*GenerationResult, error) {
	if err := validatePeriod(month, year); err != nil {
		return nil, err
	}

	lockName := fmt.Sprintf("generate:%04d-%02d", year, month)
	release, ok, err := s.locker.Acquire(ctx, lockName, s.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		observability.IncrementLockContention(lockName)
		return nil, fmt.Errorf("generation for %04d-%02d is already running: %w", year, month, domain.ErrConcurrencyConflict)
	}
	defer release()

	result := &GenerationResult{Month: month, Year: year, DryRun: opts.DryRun}

	teachers, err := s.directory.ListActiveTeachers(ctx)
	if err != nil {
		observability.IncrementGenerationRun("failed")
		return nil, fmt.Errorf("list active teachers: %v: %w", err, domain.ErrUpstreamUnavailable)
	}

	log := zap.L().With(zap.Int("year", year), zap.Int("month", month), zap.Bool("dry_run", opts.DryRun))
	log.Info("invoice generation started", zap.Int("teachers", len(teachers)))

	for _, teacher := range teachers {
		s.generateForTeacher(ctx, teacher, month, year, opts, result)
	}

	result.Summary = fmt.Sprintf("created %d, skipped %d, adjusted %d, failed %d",
		len(result.Created), len(result.Skipped), len(result.Adjusted), len(result.Failed))
	log.Info("invoice generation finished", zap.String("summary", result.Summary))

	if opts.DryRun {
		observability.IncrementGenerationRun("dry_run")
		return result, nil
	}

	if len(result.Failed) > 0 {
		observability.IncrementGenerationRun("partial")
	} else {
		observability.IncrementGenerationRun("ok")
	}
	observability.SetLastGenerationCreated(len(result.Created))

	err = s.store.RunInTx(ctx, func(tx store.Store) error {
		return s.audit.Write(ctx, tx, AuditRecord{
			Action:     domain.ActionJobRun,
			EntityType: domain.EntityJob,
			EntityID:   fmt.Sprintf("%04d-%02d", year, month),
			Actor:      opts.Actor,
			After:      result,
			Success:    len(result.Failed) == 0,
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// generateForTeacher processes one teacher in isolation: any failure is
// captured in the result, audited, and never escalated.
func (s *GenerationService) generateForTeacher(ctx context.Context, teacher models.Teacher, month, year int, opts GenerationOptions, result *GenerationResult) {
	outcome := TeacherOutcome{TeacherID: teacher.ID}

	fail := func(err error) {
		outcome.Error = err.Error()
		result.Failed = append(result.Failed, outcome)
		zap.L().Warn("invoice generation failed for teacher",
			zap.String("teacher_id", teacher.ID.String()), zap.Error(err))
		if opts.DryRun {
			return
		}
		auditErr := s.store.RunInTx(ctx, func(tx store.Store) error {
			return s.audit.Write(ctx, tx, AuditRecord{
				Action:       domain.ActionJobFail,
				EntityType:   domain.EntityJob,
				EntityID:     fmt.Sprintf("%04d-%02d", year, month),
				Actor:        opts.Actor,
				Reason:       teacher.ID.String(),
				Success:      false,
				ErrorMessage: err.Error(),
			})
		})
		if auditErr != nil {
			zap.L().Error("failed to audit generation failure", zap.Error(auditErr))
		}
	}

	existing, err := s.store.GetInvoiceForPeriod(ctx, teacher.ID, month, year)
	if err != nil && !isNotFound(err) {
		fail(err)
		return
	}

	if existing != nil {
		s.handleExisting(ctx, teacher, existing, month, year, opts, result, fail)
		return
	}

	hours, _, err := s.invoices.aggregator.AggregateHours(ctx, teacher.ID, month, year)
	if err != nil {
		fail(fmt.Errorf("aggregate hours: %v: %w", err, domain.ErrUpstreamUnavailable))
		return
	}
	if domain.RoundHours(hours).IsZero() {
		outcome.Reason = "zero billable hours"
		result.Skipped = append(result.Skipped, outcome)
		return
	}

	if opts.DryRun {
		preview, err := s.invoices.prepare(ctx, &teacher, month, year)
		if err != nil {
			fail(err)
			return
		}
		outcome.InvoiceID = &preview.ID
		outcome.Reason = "would create"
		result.Created = append(result.Created, outcome)
		return
	}

	inv, err := s.invoices.Create(ctx, teacher.ID, month, year, opts.Actor)
	if err != nil {
		fail(err)
		return
	}
	outcome.InvoiceID = &inv.ID
	result.Created = append(result.Created, outcome)
}

// handleExisting decides what to do with a teacher who already has a
// non-adjustment invoice for the period: published and later statuses are
// left alone; a draft whose hours drifted since creation is refreshed and
// reported as adjusted.
func (s *GenerationService) handleExisting(ctx context.Context, teacher models.Teacher, existing *models.TeacherInvoice, month, year int, opts GenerationOptions, result *GenerationResult, fail func(error)) {
	outcome := TeacherOutcome{TeacherID: teacher.ID, InvoiceID: &existing.ID}

	if existing.Status != domain.InvoiceStatusDraft {
		outcome.Reason = "already invoiced (" + existing.Status + ")"
		result.Skipped = append(result.Skipped, outcome)
		return
	}

	hours, classIDs, err := s.invoices.aggregator.AggregateHours(ctx, teacher.ID, month, year)
	if err != nil {
		fail(fmt.Errorf("aggregate hours: %v: %w", err, domain.ErrUpstreamUnavailable))
		return
	}
	hours = domain.RoundHours(hours)
	if hours.Equal(existing.TotalHours) {
		outcome.Reason = "already invoiced (draft, hours unchanged)"
		result.Skipped = append(result.Skipped, outcome)
		return
	}

	if opts.DryRun {
		outcome.Reason = fmt.Sprintf("would refresh hours %s -> %s", existing.TotalHours, hours)
		result.Adjusted = append(result.Adjusted, outcome)
		return
	}

	_, err = s.invoices.mutate(ctx, existing.ID, domain.ActionInvoiceRefresh, "hour totals changed since creation", opts.Actor, func(inv *models.TeacherInvoice) error {
		inv.TotalHours = hours
		inv.ClassIDs = classIDs
		return nil
	})
	if err != nil {
		fail(err)
		return
	}
	outcome.Reason = "hours refreshed"
	result.Adjusted = append(result.Adjusted, outcome)
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

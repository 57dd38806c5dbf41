package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/gateway"
	"github.com/tutorlane/payroll-engine/internal/models"
	"github.com/tutorlane/payroll-engine/internal/store"
)

// InvoiceService drives the invoice aggregate: creation, ledger edits,
// the status state machine and the publish freeze. Every mutation
// recomputes totals, appends change history and writes an audit entry in
// the same transaction.
type InvoiceService struct {
	store      store.Store
	audit      *AuditService
	settings   *SettingsService
	currency   *CurrencyService
	directory  gateway.TeacherDirectory
	aggregator gateway.HourAggregator
	notifier   gateway.Notifier
	clock      domain.Clock
}

func NewInvoiceService(
	st store.Store,
	audit *AuditService,
	settings *SettingsService,
	currency *CurrencyService,
	directory gateway.TeacherDirectory,
	aggregator gateway.HourAggregator,
	notifier gateway.Notifier,
	clock domain.Clock,
) *InvoiceService {
	return &InvoiceService{
		store:      st,
		audit:      audit,
		settings:   settings,
		currency:   currency,
		directory:  directory,
		aggregator: aggregator,
		notifier:   notifier,
		clock:      clock,
	}
}

func (s *InvoiceService) Get(ctx context.Context, id uuid.UUID) (*models.TeacherInvoice, error) {
	return s.store.GetInvoice(ctx, id)
}

func (s *InvoiceService) List(ctx context.Context, f models.InvoiceFilter) ([]models.TeacherInvoice, error) {
	return s.store.ListInvoices(ctx, f)
}

// prepare builds a draft invoice for a teacher and period without
// persisting it. The rate, exchange-rate and transfer-fee blocks are
// resolved now as working values; they seal only at publish.
func (s *InvoiceService) prepare(ctx context.Context, teacher *models.Teacher, month, year int) (*models.TeacherInvoice, error) {
	hours, classIDs, err := s.aggregator.AggregateHours(ctx, teacher.ID, month, year)
	if err != nil {
		return nil, fmt.Errorf("aggregate hours for teacher %s: %v: %w", teacher.ID, err, domain.ErrUpstreamUnavailable)
	}
	hours = domain.RoundHours(hours)

	rateSnap, err := s.settings.ResolveRate(ctx, teacher, teacher.TotalHoursYTD)
	if err != nil {
		return nil, err
	}
	fx, fxSource, err := s.currency.GetActiveRate(ctx, domain.CurrencyUSD, domain.CurrencyEGP, month, year)
	if err != nil {
		return nil, err
	}
	feeSnap, err := s.settings.ResolveTransferFee(ctx, teacher)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	inv := &models.TeacherInvoice{
		ID:                 uuid.New(),
		TeacherID:          teacher.ID,
		Month:              month,
		Year:               year,
		Status:             domain.InvoiceStatusDraft,
		TotalHours:         hours,
		ClassIDs:           classIDs,
		LockedMonthlyHours: domain.RoundHours(teacher.TotalHoursYTD),
		RateSnapshot:       rateSnap,
		ExchangeRateSnapshot: models.ExchangeRateSnapshot{
			Rate:   fx,
			Source: fxSource,
			SetBy:  domain.ActorSystem,
		},
		TransferFeeSnapshot: feeSnap,
		Bonuses:             []models.BonusEntry{},
		Extras:              []models.ExtraEntry{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	Recalculate(inv, fx)
	return inv, nil
}

// Create builds and persists a draft invoice for a teacher and period.
func (s *InvoiceService) Create(ctx context.Context, teacherID uuid.UUID, month, year int, actor Actor) (*models.TeacherInvoice, error) {
	if err := validatePeriod(month, year); err != nil {
		return nil, err
	}

	if existing, err := s.store.GetInvoiceForPeriod(ctx, teacherID, month, year); err == nil {
		return nil, fmt.Errorf("teacher %s already has invoice %s for %d-%02d: %w",
			teacherID, existing.ID, year, month, domain.ErrConcurrencyConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	teacher, err := s.directory.GetTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}

	inv, err := s.prepare(ctx, teacher, month, year)
	if err != nil {
		return nil, err
	}

	err = s.store.RunInTx(ctx, func(tx store.Store) error {
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		return s.audit.Write(ctx, tx, AuditRecord{
			Action:     domain.ActionInvoiceCreate,
			EntityType: domain.EntityInvoice,
			EntityID:   inv.ID.String(),
			Actor:      actor,
			After:      *inv,
			Success:    true,
		})
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// CreateAdjustment opens a correction document referencing an existing
// invoice. Paid invoices are never mutated; corrections accumulate on the
// adjustment instead. It starts empty: admins add extras, bonuses or
// overrides to express the correction.
func (s *InvoiceService) CreateAdjustment(ctx context.Context, originalID uuid.UUID, reason string, actor Actor) (*models.TeacherInvoice, error) {
	original, err := s.store.GetInvoice(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if original.Deleted {
		return nil, fmt.Errorf("invoice %s is deleted: %w", originalID, domain.ErrNotFound)
	}
	if original.IsAdjustment {
		return nil, fmt.Errorf("invoice %s is itself an adjustment: %w", originalID, domain.ErrValidation)
	}

	teacher, err := s.directory.GetTeacher(ctx, original.TeacherID)
	if err != nil {
		return nil, err
	}

	rateSnap, err := s.settings.ResolveRate(ctx, teacher, teacher.TotalHoursYTD)
	if err != nil {
		return nil, err
	}
	fx, fxSource, err := s.currency.GetActiveRate(ctx, domain.CurrencyUSD, domain.CurrencyEGP, original.Month, original.Year)
	if err != nil {
		return nil, err
	}
	feeSnap, err := s.settings.ResolveTransferFee(ctx, teacher)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	adjID := originalID
	inv := &models.TeacherInvoice{
		ID:            uuid.New(),
		TeacherID:     original.TeacherID,
		Month:         original.Month,
		Year:          original.Year,
		Status:        domain.InvoiceStatusDraft,
		IsAdjustment:  true,
		AdjustmentFor: &adjID,
		RateSnapshot:  rateSnap,
		ExchangeRateSnapshot: models.ExchangeRateSnapshot{
			Rate:   fx,
			Source: fxSource,
			SetBy:  actor.ID,
		},
		TransferFeeSnapshot: feeSnap,
		Bonuses:             []models.BonusEntry{},
		Extras:              []models.ExtraEntry{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	Recalculate(inv, fx)
	s.appendHistory(inv, domain.ActionAdjustmentCreate, nil, inv.Totals, actor, reason)

	err = s.store.RunInTx(ctx, func(tx store.Store) error {
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		return s.audit.Write(ctx, tx, AuditRecord{
			Action:     domain.ActionAdjustmentCreate,
			EntityType: domain.EntityInvoice,
			EntityID:   inv.ID.String(),
			Actor:      actor,
			After:      *inv,
			Reason:     reason,
			Success:    true,
		})
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// AddBonus appends a bonus ledger entry. Allowed in draft and published.
func (s *InvoiceService) AddBonus(ctx context.Context, id uuid.UUID, source string, amountUSD decimal.Decimal, reason string, actor Actor) (*models.TeacherInvoice, error) {
	if source != domain.BonusSourceGuardian && source != domain.BonusSourceAdmin {
		return nil, fmt.Errorf("unknown bonus source %q: %w", source, domain.ErrValidation)
	}
	if amountUSD.IsNegative() {
		return nil, fmt.Errorf("bonus amount must not be negative: %w", domain.ErrValidation)
	}

	return s.mutate(ctx, id, domain.ActionAddBonus, reason, actor, func(inv *models.TeacherInvoice) error {
		if err := requireMutable(inv); err != nil {
			return err
		}
		inv.Bonuses = append(inv.Bonuses, models.BonusEntry{
			ID:        uuid.New(),
			Source:    source,
			AmountUSD: domain.RoundMoney(amountUSD),
			Reason:    reason,
			AddedBy:   actor.ID,
			AddedAt:   s.clock.Now(),
		})
		return nil
	})
}

// RemoveBonus deletes a bonus ledger entry by its own id.
func (s *InvoiceService) RemoveBonus(ctx context.Context, id, entryID uuid.UUID, reason string, actor Actor) (*models.TeacherInvoice, error) {
	return s.mutate(ctx, id, domain.ActionRemoveBonus, reason, actor, func(inv *models.TeacherInvoice) error {
		if err := requireMutable(inv); err != nil {
			return err
		}
		for i, b := range inv.Bonuses {
			if b.ID == entryID {
				inv.Bonuses = append(inv.Bonuses[:i], inv.Bonuses[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("bonus entry %s: %w", entryID, domain.ErrNotFound)
	})
}

// AddExtra appends a signed adjustment entry (penalties are negative).
func (s *InvoiceService) AddExtra(ctx context.Context, id uuid.UUID, category string, amountUSD decimal.Decimal, reason string, actor Actor) (*models.TeacherInvoice, error) {
	switch category {
	case domain.ExtraCategoryReimbursement, domain.ExtraCategoryBonus,
		domain.ExtraCategoryPenalty, domain.ExtraCategoryOther:
	default:
		return nil, fmt.Errorf("unknown extra category %q: %w", category, domain.ErrValidation)
	}

	return s.mutate(ctx, id, domain.ActionAddExtra, reason, actor, func(inv *models.TeacherInvoice) error {
		if err := requireMutable(inv); err != nil {
			return err
		}
		inv.Extras = append(inv.Extras, models.ExtraEntry{
			ID:        uuid.New(),
			Category:  category,
			AmountUSD: domain.RoundMoney(amountUSD),
			Reason:    reason,
			AddedBy:   actor.ID,
			AddedAt:   s.clock.Now(),
		})
		return nil
	})
}

// RemoveExtra deletes an extra ledger entry by its own id.
func (s *InvoiceService) RemoveExtra(ctx context.Context, id, entryID uuid.UUID, reason string, actor Actor) (*models.TeacherInvoice, error) {
	return s.mutate(ctx, id, domain.ActionRemoveExtra, reason, actor, func(inv *models.TeacherInvoice) error {
		if err := requireMutable(inv); err != nil {
			return err
		}
		for i, e := range inv.Extras {
			if e.ID == entryID {
				inv.Extras = append(inv.Extras[:i], inv.Extras[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("extra entry %s: %w", entryID, domain.ErrNotFound)
	})
}

// SetOverrides replaces the override block wholesale and recomputes.
func (s *InvoiceService) SetOverrides(ctx context.Context, id uuid.UUID, overrides models.InvoiceOverrides, reason string, actor Actor) (*models.TeacherInvoice, error) {
	if overrides.ExchangeRate != nil && !overrides.ExchangeRate.IsPositive() {
		return nil, fmt.Errorf("exchange rate override must be positive: %w", domain.ErrValidation)
	}
	return s.mutate(ctx, id, domain.ActionSetOverrides, reason, actor, func(inv *models.TeacherInvoice) error {
		if err := requireMutable(inv); err != nil {
			return err
		}
		inv.Overrides = overrides
		return nil
	})
}

// Publish moves a draft to published: fresh recompute, invoice number and
// share token assignment, and a one-time freeze of the three snapshot
// blocks. Once sealed the snapshots never recompute, even across a later
// unpublish/republish cycle or global settings changes.
func (s *InvoiceService) Publish(ctx context.Context, id uuid.UUID, actor Actor) (*models.TeacherInvoice, error) {
	inv, err := s.mutate(ctx, id, domain.ActionPublish, "", actor, func(inv *models.TeacherInvoice) error {
		if err := requireTransition(inv, domain.InvoiceStatusPublished); err != nil {
			return err
		}

		if !inv.Frozen() {
			teacher, err := s.directory.GetTeacher(ctx, inv.TeacherID)
			if err != nil {
				return err
			}
			rateSnap, err := s.settings.ResolveRate(ctx, teacher, inv.LockedMonthlyHours)
			if err != nil {
				return err
			}
			fx, fxSource, err := s.currency.GetActiveRate(ctx, domain.CurrencyUSD, domain.CurrencyEGP, inv.Month, inv.Year)
			if err != nil {
				return err
			}
			feeSnap, err := s.settings.ResolveTransferFee(ctx, teacher)
			if err != nil {
				return err
			}
			inv.RateSnapshot = rateSnap
			inv.ExchangeRateSnapshot = models.ExchangeRateSnapshot{Rate: fx, Source: fxSource, SetBy: actor.ID}
			inv.TransferFeeSnapshot = feeSnap
			now := s.clock.Now()
			inv.PublishedAt = &now
		}

		if inv.InvoiceNumber == "" {
			number, err := s.nextInvoiceNumber(ctx, inv.Month, inv.Year)
			if err != nil {
				return err
			}
			inv.InvoiceNumber = number
		}
		if inv.ShareToken == "" {
			token, err := shareToken()
			if err != nil {
				return err
			}
			inv.ShareToken = token
		}

		inv.Status = domain.InvoiceStatusPublished
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(func(ctx context.Context) error {
		period := time.Date(inv.Year, time.Month(inv.Month), 1, 0, 0, 0, 0, time.UTC)
		return s.notifier.InvoicePublished(ctx, inv.TeacherID, inv.ID, inv.InvoiceNumber, period)
	})
	return inv, nil
}

// Unpublish reverts a published, unpaid invoice to draft. The invoice
// number, share token and sealed snapshots all persist.
func (s *InvoiceService) Unpublish(ctx context.Context, id uuid.UUID, reason string, actor Actor) (*models.TeacherInvoice, error) {
	return s.mutate(ctx, id, domain.ActionUnpublish, reason, actor, func(inv *models.TeacherInvoice) error {
		if err := requireTransition(inv, domain.InvoiceStatusDraft); err != nil {
			return err
		}
		inv.Status = domain.InvoiceStatusDraft
		return nil
	})
}

// MarkPaid records payment details and pushes the teacher's year-to-date
// totals. Terminal for ledger edits.
func (s *InvoiceService) MarkPaid(ctx context.Context, id uuid.UUID, method, transactionID string, actor Actor) (*models.TeacherInvoice, error) {
	inv, err := s.mutate(ctx, id, domain.ActionMarkPaid, "", actor, func(inv *models.TeacherInvoice) error {
		if err := requireTransition(inv, domain.InvoiceStatusPaid); err != nil {
			return err
		}
		inv.Status = domain.InvoiceStatusPaid
		inv.Payment = &models.Payment{
			Method:        method,
			TransactionID: transactionID,
			PaidAt:        s.clock.Now(),
			PaidBy:        actor.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// YTD write-back is a collaborator mutation outside our transaction;
	// a failure here is logged for reconciliation, not rolled back.
	if err := s.directory.RecordPayment(ctx, inv.TeacherID, inv.TotalHours, inv.Totals.TotalUSD); err != nil {
		zap.L().Error("failed to push year-to-date totals to teacher directory",
			zap.String("invoice_id", inv.ID.String()),
			zap.String("teacher_id", inv.TeacherID.String()),
			zap.Error(err))
	}

	s.notify(func(ctx context.Context) error {
		return s.notifier.InvoicePaid(ctx, inv.TeacherID, inv.ID, inv.InvoiceNumber)
	})
	return inv, nil
}

// Archive retires an invoice from any non-archived status.
func (s *InvoiceService) Archive(ctx context.Context, id uuid.UUID, reason string, actor Actor) (*models.TeacherInvoice, error) {
	return s.mutate(ctx, id, domain.ActionArchive, reason, actor, func(inv *models.TeacherInvoice) error {
		if err := requireTransition(inv, domain.InvoiceStatusArchived); err != nil {
			return err
		}
		inv.Status = domain.InvoiceStatusArchived
		return nil
	})
}

// SoftDelete flags the invoice out of all listing and generation logic
// without physical removal.
func (s *InvoiceService) SoftDelete(ctx context.Context, id uuid.UUID, reason string, actor Actor) (*models.TeacherInvoice, error) {
	return s.mutate(ctx, id, domain.ActionSoftDelete, reason, actor, func(inv *models.TeacherInvoice) error {
		inv.Deleted = true
		return nil
	})
}

// mutate is the shared read-modify-write cycle: load the latest persisted
// state, apply fn, recompute, append change history, then save and audit
// in one transaction under the version guard.
func (s *InvoiceService) mutate(ctx context.Context, id uuid.UUID, action, reason string, actor Actor, fn func(*models.TeacherInvoice) error) (*models.TeacherInvoice, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Deleted && action != domain.ActionSoftDelete {
		return nil, fmt.Errorf("invoice %s is deleted: %w", id, domain.ErrNotFound)
	}

	before := *inv
	if err := fn(inv); err != nil {
		return nil, err
	}

	if err := s.recalculate(ctx, inv); err != nil {
		return nil, err
	}
	s.appendHistory(inv, action, before.Totals, inv.Totals, actor, reason)
	inv.UpdatedAt = s.clock.Now()

	err = s.store.RunInTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		return s.audit.Write(ctx, tx, AuditRecord{
			Action:     action,
			EntityType: domain.EntityInvoice,
			EntityID:   inv.ID.String(),
			Actor:      actor,
			Before:     before,
			After:      *inv,
			Reason:     reason,
			Success:    true,
		})
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// recalculate re-derives the totals. Unfrozen invoices convert at the
// period's current active rate; frozen ones always use their sealed
// snapshot (handled inside Recalculate).
func (s *InvoiceService) recalculate(ctx context.Context, inv *models.TeacherInvoice) error {
	fx := inv.ExchangeRateSnapshot.Rate
	if !inv.Frozen() {
		current, _, err := s.currency.GetActiveRate(ctx, domain.CurrencyUSD, domain.CurrencyEGP, inv.Month, inv.Year)
		if err != nil {
			return err
		}
		fx = current
	}
	Recalculate(inv, fx)
	return nil
}

func (s *InvoiceService) appendHistory(inv *models.TeacherInvoice, action string, before, after any, actor Actor, note string) {
	actorID := actor.ID
	if actorID == "" {
		actorID = domain.ActorSystem
	}
	entry := models.InvoiceChange{
		Action:    action,
		ChangedBy: actorID,
		ChangedAt: s.clock.Now(),
		Note:      note,
	}
	if before != nil {
		entry.OldValue = mustJSON(before)
	}
	if after != nil {
		entry.NewValue = mustJSON(after)
	}
	inv.ChangeHistory = append(inv.ChangeHistory, entry)
}

func (s *InvoiceService) nextInvoiceNumber(ctx context.Context, month, year int) (string, error) {
	count, err := s.store.CountNumberedForPeriod(ctx, month, year)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%04d%02d-%04d", year, month, count+1), nil
}

func shareToken() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate share token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// notify delivers an event in the background. Notification failures never
// roll back the invoice.
func (s *InvoiceService) notify(fn func(context.Context) error) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			zap.L().Warn("invoice notification failed", zap.Error(err))
		}
	}()
}

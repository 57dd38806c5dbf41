package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/models"
	"github.com/tutorlane/payroll-engine/internal/store"
)

// SettingsService owns the singleton salary settings row and resolves
// hourly rates and transfer fees against it.
type SettingsService struct {
	store store.Store
	audit *AuditService
	clock domain.Clock
}

func NewSettingsService(st store.Store, audit *AuditService, clock domain.Clock) *SettingsService {
	return &SettingsService{store: st, audit: audit, clock: clock}
}

func defaultSettings(now time.Time) *models.SalarySettings {
	return &models.SalarySettings{
		Key:                domain.SettingsKey,
		RateModel:          domain.RateModelFlat,
		RatePartitions:     []models.RatePartition{},
		DefaultTransferFee: models.TransferFee{Model: domain.FeeModelNone, Value: decimal.Zero},
		UpdatedAt:          now,
	}
}

// Get returns the settings row, creating the default one on first access.
func (s *SettingsService) Get(ctx context.Context) (*models.SalarySettings, error) {
	settings, err := s.store.GetSettings(ctx)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	created := defaultSettings(s.clock.Now())
	err = s.store.RunInTx(ctx, func(tx store.Store) error {
		return tx.InsertSettings(ctx, created)
	})
	if err != nil {
		// Lost the creation race; the winner's row is authoritative.
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			return s.store.GetSettings(ctx)
		}
		return nil, err
	}
	return created, nil
}

// SettingsUpdate carries the fields an admin may change. Nil fields are
// left untouched.
type SettingsUpdate struct {
	RateModel          *string
	RatePartitions     *[]models.RatePartition
	DefaultTransferFee *models.TransferFee
	Note               string
}

// Update applies the changes, appends change-history entries per changed
// field, and audits the mutation. Partition problems are advisory: they
// are returned as warnings, not write failures.
func (s *SettingsService) Update(ctx context.Context, update SettingsUpdate, actor Actor) (*models.SalarySettings, []string, error) {
	if update.RateModel != nil {
		switch *update.RateModel {
		case domain.RateModelFlat, domain.RateModelProgressive:
		default:
			return nil, nil, fmt.Errorf("unknown rate model %q: %w", *update.RateModel, domain.ErrValidation)
		}
	}
	if update.DefaultTransferFee != nil {
		if err := validateTransferFee(*update.DefaultTransferFee); err != nil {
			return nil, nil, err
		}
	}

	var warnings []string
	if update.RatePartitions != nil {
		warnings = ValidatePartitions(*update.RatePartitions)
		for _, w := range warnings {
			zap.L().Warn("rate partition table problem", zap.String("warning", w))
		}
	}

	settings, err := s.Get(ctx)
	if err != nil {
		return nil, nil, err
	}

	now := s.clock.Now()
	before := *settings

	appendChange := func(field string, oldVal, newVal any) {
		settings.ChangeHistory = append(settings.ChangeHistory, models.SettingsChange{
			Field:     field,
			OldValue:  mustJSON(oldVal),
			NewValue:  mustJSON(newVal),
			ChangedBy: actor.ID,
			ChangedAt: now,
			Note:      update.Note,
		})
	}

	changed := false
	if update.RateModel != nil && *update.RateModel != settings.RateModel {
		appendChange("rate_model", settings.RateModel, *update.RateModel)
		settings.RateModel = *update.RateModel
		changed = true
	}
	if update.RatePartitions != nil {
		appendChange("rate_partitions", settings.RatePartitions, *update.RatePartitions)
		settings.RatePartitions = *update.RatePartitions
		changed = true
	}
	if update.DefaultTransferFee != nil {
		appendChange("default_transfer_fee", settings.DefaultTransferFee, *update.DefaultTransferFee)
		settings.DefaultTransferFee = *update.DefaultTransferFee
		changed = true
	}
	if !changed {
		return settings, warnings, nil
	}
	settings.UpdatedAt = now

	err = s.store.RunInTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateSettings(ctx, settings); err != nil {
			return err
		}
		return s.audit.Write(ctx, tx, AuditRecord{
			Action:     domain.ActionSettingsUpdate,
			EntityType: domain.EntitySettings,
			EntityID:   domain.SettingsKey,
			Actor:      actor,
			Before:     before,
			After:      *settings,
			Reason:     update.Note,
			Success:    true,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return settings, warnings, nil
}

func validateTransferFee(fee models.TransferFee) error {
	switch fee.Model {
	case domain.FeeModelFlat, domain.FeeModelPercentage, domain.FeeModelNone:
	default:
		return fmt.Errorf("unknown transfer fee model %q: %w", fee.Model, domain.ErrValidation)
	}
	if fee.Value.IsNegative() {
		return fmt.Errorf("transfer fee value must not be negative: %w", domain.ErrValidation)
	}
	if fee.Model == domain.FeeModelPercentage && fee.Value.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("percentage transfer fee must not exceed 100: %w", domain.ErrValidation)
	}
	return nil
}

// ValidatePartitions reports overlap, gap and range problems among active
// partitions. Advisory only: an invalid table can still be saved.
func ValidatePartitions(partitions []models.RatePartition) []string {
	var warnings []string

	active := activePartitionsSorted(partitions)
	for _, p := range active {
		if p.MaxHours.LessThan(p.MinHours) {
			warnings = append(warnings, fmt.Sprintf("partition %q has max_hours below min_hours", p.Name))
		}
		if p.RateUSD.IsNegative() {
			warnings = append(warnings, fmt.Sprintf("partition %q has a negative rate", p.Name))
		}
	}

	for i := 1; i < len(active); i++ {
		prev, cur := active[i-1], active[i]
		if cur.MinHours.LessThanOrEqual(prev.MaxHours) {
			warnings = append(warnings, fmt.Sprintf("partitions %q and %q overlap", prev.Name, cur.Name))
		} else if cur.MinHours.Sub(prev.MaxHours).GreaterThan(decimal.NewFromFloat(0.001)) {
			warnings = append(warnings, fmt.Sprintf("gap between partitions %q and %q", prev.Name, cur.Name))
		}
	}
	return warnings
}

func activePartitionsSorted(partitions []models.RatePartition) []models.RatePartition {
	var active []models.RatePartition
	for _, p := range partitions {
		if p.IsActive {
			active = append(active, p)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].MinHours.LessThan(active[j].MinHours)
	})
	return active
}

// ResolveRate picks the hourly rate for a teacher at the given cumulative
// hour count. A teacher's enabled custom rate short-circuits the partition
// lookup. When no partition covers the hours, the top tier applies rather
// than refusing to pay.
func (s *SettingsService) ResolveRate(ctx context.Context, teacher *models.Teacher, cumulativeHours decimal.Decimal) (models.RateSnapshot, error) {
	if teacher != nil && teacher.CustomRate.Enabled {
		label := teacher.CustomRate.Label
		if label == "" {
			label = "custom"
		}
		return models.RateSnapshot{
			Partition: label,
			Rate:      domain.RoundMoney(teacher.CustomRate.RateUSD),
			Source:    domain.RateSourceTeacherCustom,
		}, nil
	}

	settings, err := s.Get(ctx)
	if err != nil {
		return models.RateSnapshot{}, err
	}
	return resolvePartitionRate(settings.RatePartitions, cumulativeHours)
}

func resolvePartitionRate(partitions []models.RatePartition, cumulativeHours decimal.Decimal) (models.RateSnapshot, error) {
	active := activePartitionsSorted(partitions)
	if len(active) == 0 {
		return models.RateSnapshot{}, fmt.Errorf("no active rate partitions configured: %w", domain.ErrValidation)
	}

	for _, p := range active {
		if cumulativeHours.GreaterThanOrEqual(p.MinHours) && cumulativeHours.LessThanOrEqual(p.MaxHours) {
			return models.RateSnapshot{
				Partition: p.Name,
				Rate:      domain.RoundMoney(p.RateUSD),
				Source:    domain.RateSourcePartition,
			}, nil
		}
	}

	top := active[0]
	for _, p := range active[1:] {
		if p.MaxHours.GreaterThan(top.MaxHours) {
			top = p
		}
	}
	zap.L().Warn("no rate partition covers hour count, using top tier",
		zap.String("hours", cumulativeHours.String()),
		zap.String("partition", top.Name))
	return models.RateSnapshot{
		Partition: top.Name,
		Rate:      domain.RoundMoney(top.RateUSD),
		Source:    domain.RateSourceTopTier,
	}, nil
}

// ResolveTransferFee picks the fee terms for a teacher: an enabled
// per-teacher override wins over the global default.
func (s *SettingsService) ResolveTransferFee(ctx context.Context, teacher *models.Teacher) (models.TransferFeeSnapshot, error) {
	if teacher != nil && teacher.CustomTransferFee.Enabled {
		return models.TransferFeeSnapshot{
			Model:  teacher.CustomTransferFee.Model,
			Value:  teacher.CustomTransferFee.Value,
			Source: domain.FeeSourceTeacherCustom,
		}, nil
	}

	settings, err := s.Get(ctx)
	if err != nil {
		return models.TransferFeeSnapshot{}, err
	}
	return models.TransferFeeSnapshot{
		Model:  settings.DefaultTransferFee.Model,
		Value:  settings.DefaultTransferFee.Value,
		Source: domain.FeeSourceGlobalDefault,
	}, nil
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}

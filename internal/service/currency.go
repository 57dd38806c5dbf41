package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/gateway"
	"github.com/tutorlane/payroll-engine/internal/models"
	"github.com/tutorlane/payroll-engine/internal/observability"
	"github.com/tutorlane/payroll-engine/internal/store"
)

// CurrencyService reconciles exchange-rate quotes from multiple sources
// into one active rate per (pair, year, month) and performs conversions.
type CurrencyService struct {
	store   store.Store
	audit   *AuditService
	clock   domain.Clock
	sources []gateway.RateSource
	timeout time.Duration
}

func NewCurrencyService(st store.Store, audit *AuditService, clock domain.Clock, sources []gateway.RateSource, upstreamTimeout time.Duration) *CurrencyService {
	if upstreamTimeout <= 0 {
		upstreamTimeout = 10 * time.Second
	}
	return &CurrencyService{store: st, audit: audit, clock: clock, sources: sources, timeout: upstreamTimeout}
}

// GetOrCreate returns the period record, creating an empty one when the
// period has never been touched. Never fails for a missing period.
func (s *CurrencyService) GetOrCreate(ctx context.Context, base, target string, month, year int) (*models.CurrencyRate, error) {
	if err := validatePeriod(month, year); err != nil {
		return nil, err
	}
	rate, err := s.store.GetRate(ctx, base, target, year, month)
	if err == nil {
		return rate, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := s.clock.Now()
	created := &models.CurrencyRate{
		ID:             uuid.New(),
		BaseCurrency:   base,
		TargetCurrency: target,
		Year:           year,
		Month:          month,
		Sources:        []models.RateQuote{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = s.store.RunInTx(ctx, func(tx store.Store) error {
		return tx.InsertRate(ctx, created)
	})
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			return s.store.GetRate(ctx, base, target, year, month)
		}
		return nil, err
	}
	return created, nil
}

// AddSource upserts one source quote by name. It never auto-selects the
// active rate.
func (s *CurrencyService) AddSource(ctx context.Context, base, target string, month, year int, quote models.RateQuote, actor Actor) (*models.CurrencyRate, error) {
	if quote.SourceName == "" {
		return nil, fmt.Errorf("source name is required: %w", domain.ErrValidation)
	}
	if !quote.Rate.IsPositive() {
		return nil, fmt.Errorf("rate must be positive: %w", domain.ErrValidation)
	}
	if domain.ReliabilityRank(quote.Reliability) == 0 {
		return nil, fmt.Errorf("unknown reliability %q: %w", quote.Reliability, domain.ErrValidation)
	}

	rate, err := s.GetOrCreate(ctx, base, target, month, year)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if quote.FetchedAt.IsZero() {
		quote.FetchedAt = now
	}
	before := *rate

	replaced := false
	for i, existing := range rate.Sources {
		if existing.SourceName == quote.SourceName {
			rate.Sources[i] = quote
			replaced = true
			break
		}
	}
	if !replaced {
		rate.Sources = append(rate.Sources, quote)
	}
	rate.UpdatedAt = now

	err = s.store.RunInTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateRate(ctx, rate); err != nil {
			return err
		}
		return s.audit.Write(ctx, tx, AuditRecord{
			Action:     domain.ActionRateSourceAdd,
			EntityType: domain.EntityRate,
			EntityID:   rate.ID.String(),
			Actor:      actor,
			Before:     before,
			After:      *rate,
			Success:    true,
		})
	})
	if err != nil {
		return nil, err
	}
	return rate, nil
}

// Recommend picks the highest-reliability source quote; ties go to the
// earlier-inserted source. Nil when the record has no sources.
func Recommend(rate *models.CurrencyRate) *models.RateQuote {
	if rate == nil || len(rate.Sources) == 0 {
		return nil
	}
	best := rate.Sources[0]
	for _, q := range rate.Sources[1:] {
		if domain.ReliabilityRank(q.Reliability) > domain.ReliabilityRank(best.Reliability) {
			best = q
		}
	}
	out := best
	return &out
}

// SetActiveRate records the admin's explicit selection for a period. It
// always overwrites; when published invoices already reference the period
// the change is allowed but loudly flagged, since it breaks
// reproducibility for any invoice generated afterwards.
func (s *CurrencyService) SetActiveRate(ctx context.Context, base, target string, month, year int, value decimal.Decimal, source, note string, actor Actor) (*models.CurrencyRate, error) {
	if !value.IsPositive() {
		return nil, fmt.Errorf("active rate must be positive: %w", domain.ErrValidation)
	}

	rate, err := s.GetOrCreate(ctx, base, target, month, year)
	if err != nil {
		return nil, err
	}

	published, err := s.store.CountPublishedForPeriod(ctx, month, year)
	if err != nil {
		return nil, err
	}
	if published > 0 {
		zap.L().Warn("changing active rate for a period with published invoices",
			zap.String("pair", base+"/"+target),
			zap.Int("year", year), zap.Int("month", month),
			zap.Int64("published_invoices", published))
	}

	now := s.clock.Now()
	before := *rate
	rate.ActiveRate = &models.ActiveRate{
		Value:      value,
		Source:     source,
		SelectedBy: actor.ID,
		SelectedAt: now,
		Note:       note,
	}
	rate.UpdatedAt = now

	err = s.store.RunInTx(ctx, func(tx store.Store) error {
		if err := tx.UpdateRate(ctx, rate); err != nil {
			return err
		}
		reason := note
		if published > 0 {
			reason = fmt.Sprintf("%s (period already has %d published invoices)", note, published)
		}
		return s.audit.Write(ctx, tx, AuditRecord{
			Action:     domain.ActionRateActiveSet,
			EntityType: domain.EntityRate,
			EntityID:   rate.ID.String(),
			Actor:      actor,
			Before:     before,
			After:      *rate,
			Reason:     reason,
			Success:    true,
		})
	})
	if err != nil {
		return nil, err
	}
	return rate, nil
}

// GetActiveRate returns the conversion rate for a pair and period. The
// degradation chain is: same pair → 1, explicit active rate, best source
// quote, and finally 1:1. The last two are availability-over-correctness
// fallbacks and are logged and metered loudly.
func (s *CurrencyService) GetActiveRate(ctx context.Context, base, target string, month, year int) (decimal.Decimal, string, error) {
	if base == target {
		return decimal.NewFromInt(1), "same_currency", nil
	}

	rate, err := s.store.GetRate(ctx, base, target, year, month)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return decimal.Zero, "", err
	}

	if rate != nil && rate.ActiveRate != nil {
		return rate.ActiveRate.Value, rate.ActiveRate.Source, nil
	}

	if best := Recommend(rate); best != nil {
		zap.L().Warn("no active rate selected, using best source quote",
			zap.String("pair", base+"/"+target),
			zap.Int("year", year), zap.Int("month", month),
			zap.String("source", best.SourceName),
			zap.String("rate", best.Rate.String()))
		observability.IncrementRateFallback("recommended_source")
		return best.Rate, best.SourceName, nil
	}

	zap.L().Warn("no rate configured for pair, converting 1:1",
		zap.String("pair", base+"/"+target),
		zap.Int("year", year), zap.Int("month", month))
	observability.IncrementRateFallback("one_to_one")
	return decimal.NewFromInt(1), "fallback_1_1", nil
}

// Convert translates an amount between currencies for a period, rounded
// to 2 decimals.
func (s *CurrencyService) Convert(ctx context.Context, amount decimal.Decimal, base, target string, month, year int) (decimal.Decimal, error) {
	rate, _, err := s.GetActiveRate(ctx, base, target, month, year)
	if err != nil {
		return decimal.Zero, err
	}
	return domain.RoundMoney(amount.Mul(rate)), nil
}

// RefreshOutcome is one (pair, source) attempt in a bulk refresh.
type RefreshOutcome struct {
	Pair   models.CurrencyPair `json:"pair"`
	Source string              `json:"source"`
	Rate   decimal.Decimal     `json:"rate,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// RefreshReport is the partial-success result of a bulk refresh.
type RefreshReport struct {
	Success []RefreshOutcome `json:"success"`
	Failed  []RefreshOutcome `json:"failed"`
}

// BulkRefresh fetches quotes for every known pair from every configured
// source. A single source failure never aborts the batch.
func (s *CurrencyService) BulkRefresh(ctx context.Context, month, year int, actor Actor) (*RefreshReport, error) {
	if err := validatePeriod(month, year); err != nil {
		return nil, err
	}

	pairs, err := s.store.ListRatePairs(ctx)
	if err != nil {
		return nil, err
	}
	pairs = ensurePair(pairs, models.CurrencyPair{Base: domain.CurrencyUSD, Target: domain.CurrencyEGP})

	report := &RefreshReport{}
	for _, pair := range pairs {
		for _, src := range s.sources {
			outcome := RefreshOutcome{Pair: pair, Source: src.Name()}

			fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
			value, err := src.FetchRate(fetchCtx, pair.Base, pair.Target)
			cancel()
			if err != nil {
				outcome.Error = err.Error()
				report.Failed = append(report.Failed, outcome)
				zap.L().Warn("rate source fetch failed",
					zap.String("source", src.Name()),
					zap.String("pair", pair.Base+"/"+pair.Target),
					zap.Error(err))
				continue
			}

			quote := models.RateQuote{
				SourceName:  src.Name(),
				Rate:        value,
				Reliability: src.Reliability(),
				FetchedAt:   s.clock.Now(),
			}
			if _, err := s.AddSource(ctx, pair.Base, pair.Target, month, year, quote, actor); err != nil {
				outcome.Error = err.Error()
				report.Failed = append(report.Failed, outcome)
				continue
			}
			outcome.Rate = value
			report.Success = append(report.Success, outcome)
		}
	}

	err = s.store.RunInTx(ctx, func(tx store.Store) error {
		return s.audit.Write(ctx, tx, AuditRecord{
			Action:     domain.ActionRateBulkRefresh,
			EntityType: domain.EntityRate,
			EntityID:   fmt.Sprintf("%d-%02d", year, month),
			Actor:      actor,
			After:      report,
			Success:    len(report.Failed) == 0,
		})
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func ensurePair(pairs []models.CurrencyPair, want models.CurrencyPair) []models.CurrencyPair {
	for _, p := range pairs {
		if p == want {
			return pairs
		}
	}
	return append(pairs, want)
}

func validatePeriod(month, year int) error {
	if month < 1 || month > 12 {
		return fmt.Errorf("month %d out of range: %w", month, domain.ErrValidation)
	}
	if year < 2000 || year > 2100 {
		return fmt.Errorf("year %d out of range: %w", year, domain.ErrValidation)
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/gateway"
	"github.com/tutorlane/payroll-engine/internal/models"
)

func TestGetActiveRateSameCurrency(t *testing.T) {
	f := newFixture()
	rate, source, err := f.currency.GetActiveRate(context.Background(), domain.CurrencyUSD, domain.CurrencyUSD, testMonth, testYear)
	require.NoError(t, err)
	assertDecimal(t, "1", rate, "rate")
	assert.Equal(t, "same_currency", source)
}

func TestGetActiveRateUnknownPairFallsBackOneToOne(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	rate, source, err := f.currency.GetActiveRate(ctx, domain.CurrencyUSD, domain.CurrencyEGP, testMonth, testYear)
	require.NoError(t, err)
	assertDecimal(t, "1", rate, "rate")
	assert.Equal(t, "fallback_1_1", source)

	converted, err := f.currency.Convert(ctx, dec("100"), domain.CurrencyUSD, domain.CurrencyEGP, testMonth, testYear)
	require.NoError(t, err)
	assertDecimal(t, "100.00", converted, "converted")
}

func TestGetActiveRateUsesBestQuoteWhenNoneSelected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.currency.AddSource(ctx, domain.CurrencyUSD, domain.CurrencyEGP, testMonth, testYear,
		models.RateQuote{SourceName: "market_feed", Rate: dec("31.80"), Reliability: domain.ReliabilityMedium}, adminActor)
	require.NoError(t, err)
	_, err = f.currency.AddSource(ctx, domain.CurrencyUSD, domain.CurrencyEGP, testMonth, testYear,
		models.RateQuote{SourceName: "central_bank", Rate: dec("31.50"), Reliability: domain.ReliabilityHigh}, adminActor)
	require.NoError(t, err)

	rate, source, err := f.currency.GetActiveRate(ctx, domain.CurrencyUSD, domain.CurrencyEGP, testMonth, testYear)
	require.NoError(t, err)
	assertDecimal(t, "31.50", rate, "rate")
	assert.Equal(t, "central_bank", source)
}

func TestRecommendPrefersReliabilityThenInsertionOrder(t *testing.T) {
	rate := &models.CurrencyRate{Sources: []models.RateQuote{
		{SourceName: "feed_a", Rate: dec("31.00"), Reliability: domain.ReliabilityMedium},
		{SourceName: "feed_b", Rate: dec("31.10"), Reliability: domain.ReliabilityHigh},
		{SourceName: "feed_c", Rate: dec("31.20"), Reliability: domain.ReliabilityHigh},
	}}
	best := Recommend(rate)
	require.NotNil(t, best)
	// feed_b and feed_c tie on reliability; the earlier-inserted one wins.
	assert.Equal(t, "feed_b", best.SourceName)

	assert.Nil(t, Recommend(nil))
	assert.Nil(t, Recommend(&models.CurrencyRate{}))
}

func TestAddSourceUpsertsByName(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.currency.AddSource(ctx, domain.CurrencyUSD, domain.CurrencyEGP, testMonth, testYear,
		models.RateQuote{SourceName: "market_feed", Rate: dec("31.80"), Reliability: domain.ReliabilityMedium}, adminActor)
	require.NoError(t, err)

	updated, err := f.currency.AddSource(ctx, domain.CurrencyUSD, domain.CurrencyEGP, testMonth, testYear,
		models.RateQuote{SourceName: "market_feed", Rate: dec("32.10"), Reliability: domain.ReliabilityMedium}, adminActor)
	require.NoError(t, err)

	require.Len(t, updated.Sources, 1)
	assertDecimal(t, "32.10", updated.Sources[0].Rate, "rate")
	assert.False(t, updated.Sources[0].FetchedAt.IsZero())
}

func TestAddSourceValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.currency.AddSource(ctx, domain.CurrencyUSD, domain.CurrencyEGP, testMonth, testYear,
		models.RateQuote{Rate: dec("31.80"), Reliability: domain.ReliabilityMedium}, adminActor)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.currency.AddSource(ctx, domain.CurrencyUSD, domain.CurrencyEGP, testMonth, testYear,
		models.RateQuote{SourceName: "x", Rate: dec("0"), Reliability: domain.ReliabilityMedium}, adminActor)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.currency.AddSource(ctx, domain.CurrencyUSD, domain.CurrencyEGP, testMonth, testYear,
		models.RateQuote{SourceName: "x", Rate: dec("31"), Reliability: "excellent"}, adminActor)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.currency.AddSource(ctx, domain.CurrencyUSD, domain.CurrencyEGP, 13, testYear,
		models.RateQuote{SourceName: "x", Rate: dec("31"), Reliability: domain.ReliabilityHigh}, adminActor)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestSetActiveRateOverwrites(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.currency.SetActiveRate(ctx, domain.CurrencyUSD, domain.CurrencyEGP, testMonth, testYear,
		dec("31.50"), "central_bank", "initial", adminActor)
	require.NoError(t, err)
	require.NotNil(t, first.ActiveRate)
	assertDecimal(t, "31.50", first.ActiveRate.Value, "active rate")

	second, err := f.currency.SetActiveRate(ctx, domain.CurrencyUSD, domain.CurrencyEGP, testMonth, testYear,
		dec("31.75"), "manual", "correction", adminActor)
	require.NoError(t, err)
	assertDecimal(t, "31.75", second.ActiveRate.Value, "active rate")
	assert.Equal(t, "manual", second.ActiveRate.Source)
	assert.Equal(t, adminActor.ID, second.ActiveRate.SelectedBy)

	_, err = f.currency.SetActiveRate(ctx, domain.CurrencyUSD, domain.CurrencyEGP, testMonth, testYear,
		dec("-1"), "manual", "", adminActor)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestBulkRefreshPartialFailure(t *testing.T) {
	good := &gateway.MockRateSource{SourceName: "central_bank", Reliable: domain.ReliabilityHigh, Rate: dec("31.50")}
	bad := &gateway.MockRateSource{SourceName: "market_feed", Reliable: domain.ReliabilityMedium, Err: errors.New("connection refused")}
	f := newFixture(good, bad)
	ctx := context.Background()

	report, err := f.currency.BulkRefresh(ctx, testMonth, testYear, SystemActor)
	require.NoError(t, err)
	require.Len(t, report.Success, 1)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "central_bank", report.Success[0].Source)
	assert.Equal(t, "market_feed", report.Failed[0].Source)
	assert.Contains(t, report.Failed[0].Error, "connection refused")

	// The good quote landed on the USD/EGP period record.
	rate, err := f.currency.GetOrCreate(ctx, domain.CurrencyUSD, domain.CurrencyEGP, testMonth, testYear)
	require.NoError(t, err)
	require.Len(t, rate.Sources, 1)
	assert.Equal(t, "central_bank", rate.Sources[0].SourceName)

	// The run itself is audited as a partial failure.
	entries, err := f.audit.Search(ctx, models.AuditFilter{Action: domain.ActionRateBulkRefresh})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
}

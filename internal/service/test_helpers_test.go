package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/gateway"
	"github.com/tutorlane/payroll-engine/internal/lock"
	"github.com/tutorlane/payroll-engine/internal/models"
	"github.com/tutorlane/payroll-engine/internal/store/memory"
)

// The tests run the real services against the in-memory store, which
// mirrors the Postgres semantics (versioned updates, tx rollback,
// write-once audit entries).

var (
	adminActor = Actor{ID: "admin-1", Role: domain.ActorRoleAdmin}

	// testPeriod is the invoicing period the fixtures operate on.
	testMonth = 1
	testYear  = 2026
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	store      *memory.Store
	clock      domain.FixedClock
	directory  *gateway.MockTeacherDirectory
	aggregator *gateway.MockHourAggregator
	notifier   *gateway.MockNotifier
	locker     *lock.MemoryLocker
	audit      *AuditService
	settings   *SettingsService
	currency   *CurrencyService
	invoices   *InvoiceService
	generation *GenerationService
}

func newFixture(sources ...gateway.RateSource) *fixture {
	f := &fixture{
		store:      memory.NewStore(),
		clock:      domain.FixedClock{T: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)},
		directory:  gateway.NewMockTeacherDirectory(),
		aggregator: gateway.NewMockHourAggregator(),
		notifier:   &gateway.MockNotifier{},
		locker:     lock.NewMemoryLocker(),
	}
	f.audit = NewAuditService(f.store, f.clock)
	f.settings = NewSettingsService(f.store, f.audit, f.clock)
	f.currency = NewCurrencyService(f.store, f.audit, f.clock, sources, time.Second)
	f.invoices = NewInvoiceService(f.store, f.audit, f.settings, f.currency, f.directory, f.aggregator, f.notifier, f.clock)
	f.generation = NewGenerationService(f.store, f.invoices, f.audit, f.directory, f.locker, time.Minute, f.clock)
	return f
}

// seedPartitions installs a two-tier rate table ($12 up to 50 cumulative
// hours, $15 above) and a flat 50 EGP transfer fee.
func (f *fixture) seedPartitions(t *testing.T) {
	t.Helper()
	partitions := []models.RatePartition{
		{Name: "junior", MinHours: dec("0"), MaxHours: dec("50"), RateUSD: dec("12"), IsActive: true},
		{Name: "senior", MinHours: dec("50.001"), MaxHours: dec("100000"), RateUSD: dec("15"), IsActive: true},
	}
	fee := models.TransferFee{Model: domain.FeeModelFlat, Value: dec("50")}
	_, _, err := f.settings.Update(context.Background(), SettingsUpdate{
		RatePartitions:     &partitions,
		DefaultTransferFee: &fee,
	}, adminActor)
	require.NoError(t, err)
}

// seedActiveRate pins the USD→EGP rate for the test period.
func (f *fixture) seedActiveRate(t *testing.T, rate string) {
	t.Helper()
	_, err := f.currency.SetActiveRate(context.Background(),
		domain.CurrencyUSD, domain.CurrencyEGP, testMonth, testYear,
		dec(rate), "central_bank", "", adminActor)
	require.NoError(t, err)
}

// addTeacher registers an active teacher and the hours the aggregator
// reports for the test period.
func (f *fixture) addTeacher(hours string) models.Teacher {
	teacher := models.Teacher{
		ID:     uuid.New(),
		Name:   "Test Teacher",
		Email:  "teacher@example.com",
		Active: true,
	}
	f.directory.Add(teacher)
	f.aggregator.SetHours(teacher.ID, testMonth, testYear, dec(hours), []uuid.UUID{uuid.New()})
	return teacher
}

// createInvoice is the common setup path: rate table, FX rate, teacher,
// one draft invoice.
func (f *fixture) createInvoice(t *testing.T, hours string) *models.TeacherInvoice {
	t.Helper()
	f.seedPartitions(t)
	f.seedActiveRate(t, "31.50")
	teacher := f.addTeacher(hours)
	inv, err := f.invoices.Create(context.Background(), teacher.ID, testMonth, testYear, adminActor)
	require.NoError(t, err)
	return inv
}

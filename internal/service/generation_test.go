package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/models"
)

func TestGenerateCreatesInvoicesForActiveTeachers(t *testing.T) {
	f := newFixture()
	f.seedPartitions(t)
	f.seedActiveRate(t, "31.50")
	ctx := context.Background()

	working := f.addTeacher("45")
	idle := f.addTeacher("0")
	inactive := models.Teacher{ID: uuid.New(), Active: false}
	f.directory.Add(inactive)
	f.aggregator.SetHours(inactive.ID, testMonth, testYear, dec("10"), nil)

	result, err := f.generation.Generate(ctx, testMonth, testYear, GenerationOptions{Actor: SystemActor})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Equal(t, working.ID, result.Created[0].TeacherID)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, idle.ID, result.Skipped[0].TeacherID)
	assert.Equal(t, "zero billable hours", result.Skipped[0].Reason)
	assert.Empty(t, result.Failed)
	assert.Equal(t, "created 1, skipped 1, adjusted 0, failed 0", result.Summary)

	inv, err := f.store.GetInvoiceForPeriod(ctx, working.ID, testMonth, testYear)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusDraft, inv.Status)
	assertDecimal(t, "16960.00", inv.Totals.NetAmountEGP, "net EGP")

	// The run is audited as a job entry.
	entries, err := f.audit.Search(ctx, models.AuditFilter{Action: domain.ActionJobRun})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Equal(t, domain.ActorSystem, entries[0].Actor)
}

func TestGenerateSecondRunIsIdempotent(t *testing.T) {
	f := newFixture()
	f.seedPartitions(t)
	f.seedActiveRate(t, "31.50")
	ctx := context.Background()
	f.addTeacher("45")

	first, err := f.generation.Generate(ctx, testMonth, testYear, GenerationOptions{Actor: SystemActor})
	require.NoError(t, err)
	require.Len(t, first.Created, 1)

	second, err := f.generation.Generate(ctx, testMonth, testYear, GenerationOptions{Actor: SystemActor})
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	require.Len(t, second.Skipped, 1)
	assert.Equal(t, "already invoiced (draft, hours unchanged)", second.Skipped[0].Reason)
}

func TestGenerateRefreshesDraftWhoseHoursDrifted(t *testing.T) {
	f := newFixture()
	f.seedPartitions(t)
	f.seedActiveRate(t, "31.50")
	ctx := context.Background()
	teacher := f.addTeacher("45")

	_, err := f.generation.Generate(ctx, testMonth, testYear, GenerationOptions{Actor: SystemActor})
	require.NoError(t, err)

	// Late class reports land after the first run.
	f.aggregator.SetHours(teacher.ID, testMonth, testYear, dec("48"), []uuid.UUID{uuid.New()})

	result, err := f.generation.Generate(ctx, testMonth, testYear, GenerationOptions{Actor: SystemActor})
	require.NoError(t, err)
	require.Len(t, result.Adjusted, 1)
	assert.Equal(t, "hours refreshed", result.Adjusted[0].Reason)

	inv, err := f.store.GetInvoiceForPeriod(ctx, teacher.ID, testMonth, testYear)
	require.NoError(t, err)
	assertDecimal(t, "48", inv.TotalHours, "hours")
	// 48 * 12 * 31.5 - 50.
	assertDecimal(t, "18094.00", inv.Totals.NetAmountEGP, "net EGP")
}

func TestGenerateLeavesPublishedInvoicesAlone(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	inv := f.createInvoice(t, "45")

	_, err := f.invoices.Publish(ctx, inv.ID, adminActor)
	require.NoError(t, err)

	result, err := f.generation.Generate(ctx, testMonth, testYear, GenerationOptions{Actor: SystemActor})
	require.NoError(t, err)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "already invoiced (published)", result.Skipped[0].Reason)
}

func TestGeneratePerTeacherFailureIsolation(t *testing.T) {
	f := newFixture()
	f.seedPartitions(t)
	f.seedActiveRate(t, "31.50")
	ctx := context.Background()

	healthy := f.addTeacher("45")
	broken := f.addTeacher("30")
	f.aggregator.SetError(broken.ID, testMonth, testYear, context.DeadlineExceeded)

	result, err := f.generation.Generate(ctx, testMonth, testYear, GenerationOptions{Actor: SystemActor})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Equal(t, healthy.ID, result.Created[0].TeacherID)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, broken.ID, result.Failed[0].TeacherID)

	// The healthy teacher's invoice landed despite the neighbor failing.
	_, err = f.store.GetInvoiceForPeriod(ctx, healthy.ID, testMonth, testYear)
	require.NoError(t, err)
}

func TestGenerateDryRunPersistsNothing(t *testing.T) {
	f := newFixture()
	f.seedPartitions(t)
	f.seedActiveRate(t, "31.50")
	ctx := context.Background()
	teacher := f.addTeacher("45")

	result, err := f.generation.Generate(ctx, testMonth, testYear, GenerationOptions{Actor: adminActor, DryRun: true})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	require.Len(t, result.Created, 1)
	assert.Equal(t, "would create", result.Created[0].Reason)

	_, err = f.store.GetInvoiceForPeriod(ctx, teacher.ID, testMonth, testYear)
	require.ErrorIs(t, err, domain.ErrNotFound)

	// Dry runs leave no job audit trail.
	entries, err := f.audit.Search(ctx, models.AuditFilter{Action: domain.ActionJobRun})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerateRefusedWhileLockHeld(t *testing.T) {
	f := newFixture()
	f.seedPartitions(t)
	f.seedActiveRate(t, "31.50")
	f.addTeacher("45")

	release, ok, err := f.locker.Acquire(context.Background(),
		"generate:2026-01", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	_, err = f.generation.Generate(context.Background(), testMonth, testYear, GenerationOptions{Actor: SystemActor})
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
}

func TestGenerateUpstreamFailure(t *testing.T) {
	f := newFixture()
	f.seedPartitions(t)
	f.directory.Err = context.DeadlineExceeded

	_, err := f.generation.Generate(context.Background(), testMonth, testYear, GenerationOptions{Actor: SystemActor})
	require.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestGenerateValidatesPeriod(t *testing.T) {
	f := newFixture()
	_, err := f.generation.Generate(context.Background(), 13, testYear, GenerationOptions{Actor: SystemActor})
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = f.generation.Generate(context.Background(), testMonth, 1999, GenerationOptions{Actor: SystemActor})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestGenerateAggregatorFailureIsRecordedPerTeacher(t *testing.T) {
	f := newFixture()
	f.seedPartitions(t)
	f.seedActiveRate(t, "31.50")
	ctx := context.Background()
	f.addTeacher("45")
	f.aggregator.Err = context.DeadlineExceeded

	result, err := f.generation.Generate(ctx, testMonth, testYear, GenerationOptions{Actor: SystemActor})
	require.NoError(t, err)
	require.Len(t, result.Failed, 1)
	assert.Contains(t, result.Failed[0].Error, "aggregate hours")
	assert.Empty(t, result.Created)

	// The per-teacher failure and the partial run are both audited.
	fails, err := f.audit.Search(ctx, models.AuditFilter{Action: domain.ActionJobFail})
	require.NoError(t, err)
	require.Len(t, fails, 1)
	assert.False(t, fails[0].Success)

	runs, err := f.audit.Search(ctx, models.AuditFilter{Action: domain.ActionJobRun})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.False(t, runs[0].Success)
}

package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorlane/payroll-engine/internal/db"
	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/models"
	"github.com/tutorlane/payroll-engine/internal/store"
	"github.com/tutorlane/payroll-engine/internal/testutil/dblock"
)

func init() {
	_ = godotenv.Load("../../.env") // Load from root
}

// setupTestDB connects to the database named by DATABASE_URL, or skips the
// test when none is configured. The dblock guard serializes packages that
// share the same database, and the salary_settings / currency_rates /
// teacher_invoices tables are cleared so each test starts from a known
// state. audit_log is append-only (the trigger refuses DELETE), so audit
// assertions use unique entity IDs instead.
func setupTestDB(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}

	release := dblock.Acquire()
	t.Cleanup(release)

	ctx := context.Background()
	pool, err := db.Connect(ctx, os.Getenv("DATABASE_URL"))
	require.NoError(t, err, "connect to test database")
	t.Cleanup(pool.Close)

	s := NewStore(pool)
	require.NoError(t, s.EnsureSchema(ctx))

	for _, table := range []string{"salary_settings", "currency_rates", "teacher_invoices", "idempotency_keys"} {
		_, err := pool.Exec(ctx, "DELETE FROM "+table)
		require.NoError(t, err, "clear %s", table)
	}
	return s
}

func TestSettingsVersionedUpdate(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	// 1. No row yet.
	_, err := s.GetSettings(ctx)
	require.ErrorIs(t, err, domain.ErrNotFound)

	// 2. Insert and read back.
	settings := &models.SalarySettings{
		RateModel: domain.RateModelFlat,
		RatePartitions: []models.RatePartition{
			{Name: "junior", MinHours: decimal.Zero, MaxHours: decimal.NewFromInt(50), RateUSD: decimal.NewFromInt(12), IsActive: true},
		},
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertSettings(ctx, settings))

	loaded, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)
	require.Len(t, loaded.RatePartitions, 1)
	assert.Equal(t, "junior", loaded.RatePartitions[0].Name)

	// 3. A versioned update bumps, a stale one conflicts.
	loaded.RateModel = domain.RateModelProgressive
	require.NoError(t, s.UpdateSettings(ctx, loaded))
	assert.Equal(t, int64(2), loaded.Version)

	stale := *loaded
	stale.Version = 1
	err = s.UpdateSettings(ctx, &stale)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
}

func TestRatePersistence(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	_, err := s.GetRate(ctx, "USD", "EGP", 2026, 1)
	require.ErrorIs(t, err, domain.ErrNotFound)

	rate := &models.CurrencyRate{
		ID: uuid.New(), BaseCurrency: "USD", TargetCurrency: "EGP", Year: 2026, Month: 1,
		Sources: []models.RateQuote{
			{SourceName: "central_bank", Rate: decimal.RequireFromString("31.50"), Reliability: domain.ReliabilityHigh, FetchedAt: time.Now().UTC()},
		},
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertRate(ctx, rate))

	// The (pair, period) key is unique.
	dup := &models.CurrencyRate{ID: uuid.New(), BaseCurrency: "USD", TargetCurrency: "EGP", Year: 2026, Month: 1}
	err = s.InsertRate(ctx, dup)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	loaded, err := s.GetRate(ctx, "USD", "EGP", 2026, 1)
	require.NoError(t, err)
	require.Len(t, loaded.Sources, 1)
	assert.True(t, decimal.RequireFromString("31.50").Equal(loaded.Sources[0].Rate))

	loaded.ActiveRate = &models.ActiveRate{Value: decimal.RequireFromString("31.50"), Source: "central_bank", SelectedBy: "admin-1", SelectedAt: time.Now().UTC()}
	require.NoError(t, s.UpdateRate(ctx, loaded))

	stale := *loaded
	stale.Version = 1
	err = s.UpdateRate(ctx, &stale)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	pairs, err := s.ListRatePairs(ctx)
	require.NoError(t, err)
	assert.Contains(t, pairs, models.CurrencyPair{Base: "USD", Target: "EGP"})
}

func TestInvoicePeriodConstraints(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	teacherID := uuid.New()

	inv := &models.TeacherInvoice{
		ID: uuid.New(), TeacherID: teacherID, Month: 1, Year: 2026,
		Status:    domain.InvoiceStatusDraft,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertInvoice(ctx, inv))

	// 1. Second primary invoice for the same period is refused.
	dup := &models.TeacherInvoice{ID: uuid.New(), TeacherID: teacherID, Month: 1, Year: 2026, Status: domain.InvoiceStatusDraft}
	err := s.InsertInvoice(ctx, dup)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	// 2. Adjustments and soft-deleted invoices sit outside the unique index.
	adj := &models.TeacherInvoice{
		ID: uuid.New(), TeacherID: teacherID, Month: 1, Year: 2026,
		Status: domain.InvoiceStatusDraft, IsAdjustment: true, AdjustmentFor: &inv.ID,
	}
	require.NoError(t, s.InsertInvoice(ctx, adj))

	loaded, err := s.GetInvoiceForPeriod(ctx, teacherID, 1, 2026)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, loaded.ID)

	loaded.Deleted = true
	require.NoError(t, s.UpdateInvoice(ctx, loaded))
	_, err = s.GetInvoiceForPeriod(ctx, teacherID, 1, 2026)
	require.ErrorIs(t, err, domain.ErrNotFound)

	// The slot is free again after the soft delete.
	require.NoError(t, s.InsertInvoice(ctx, dup))

	// 3. Numbering counts only invoices that carry a number.
	count, err := s.CountNumberedForPeriod(ctx, 1, 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	dup.InvoiceNumber = "INV-202601-0001"
	require.NoError(t, s.UpdateInvoice(ctx, dup))
	count, err = s.CountNumberedForPeriod(ctx, 1, 2026)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestInvoiceVersionGuardInTx(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	inv := &models.TeacherInvoice{
		ID: uuid.New(), TeacherID: uuid.New(), Month: 2, Year: 2026,
		Status:    domain.InvoiceStatusDraft,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertInvoice(ctx, inv))

	// A failing transaction leaves no trace.
	boom := assert.AnError
	err := s.RunInTx(ctx, func(tx store.Store) error {
		fresh, err := tx.GetInvoice(ctx, inv.ID)
		if err != nil {
			return err
		}
		fresh.Status = domain.InvoiceStatusPublished
		if err := tx.UpdateInvoice(ctx, fresh); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	loaded, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusDraft, loaded.Status)
	assert.Equal(t, int64(1), loaded.Version)
}

func TestAuditLogIsWriteOnce(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	entry := &models.AuditLogEntry{
		ID:         uuid.New(),
		Action:     domain.ActionPublish,
		EntityType: domain.EntityInvoice,
		EntityID:   uuid.NewString(),
		Actor:      "admin-1",
		ActorRole:  domain.ActorRoleAdmin,
		Success:    true,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.InsertAuditEntry(ctx, entry))

	// The storage trigger refuses both UPDATE and DELETE.
	_, err := s.db.Exec(ctx, `UPDATE audit_log SET actor = 'intruder' WHERE id = $1`, entry.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write-once")

	_, err = s.db.Exec(ctx, `DELETE FROM audit_log WHERE id = $1`, entry.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write-once")

	found, err := s.AuditByEntity(ctx, domain.EntityInvoice, entry.EntityID, 10, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "admin-1", found[0].Actor)
}

func TestIdempotencyKeyLifecycle(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	key := "itest-" + uuid.NewString()

	ok, err := s.ReserveIdempotencyKey(ctx, key, "hash-1", "POST", "/v1/generation")
	require.NoError(t, err)
	assert.True(t, ok)

	// A second reservation loses, whatever its hash.
	ok, err = s.ReserveIdempotencyKey(ctx, key, "hash-2", "POST", "/v1/generation")
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := s.GetIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.True(t, rec.InProgress)

	final, err := s.FinalizeIdempotencyKey(ctx, key, "hash-1", 200, []byte(`{"created":1}`), "application/json")
	require.NoError(t, err)
	assert.False(t, final.InProgress)
	assert.Equal(t, int32(200), final.ResponseStatus)
	assert.JSONEq(t, `{"created":1}`, string(final.ResponseBody))
}

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/models"
	"github.com/tutorlane/payroll-engine/internal/store"
)

func TestVersionedInvoiceUpdate(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	inv := &models.TeacherInvoice{ID: uuid.New(), TeacherID: uuid.New(), Month: 1, Year: 2026, Status: domain.InvoiceStatusDraft}
	require.NoError(t, s.InsertInvoice(ctx, inv))
	assert.Equal(t, int64(1), inv.Version)

	// A stale writer loses.
	stale := *inv
	fresh := *inv
	require.NoError(t, s.UpdateInvoice(ctx, &fresh))
	err := s.UpdateInvoice(ctx, &stale)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
}

func TestPeriodUniqueness(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	teacherID := uuid.New()

	first := &models.TeacherInvoice{ID: uuid.New(), TeacherID: teacherID, Month: 1, Year: 2026}
	require.NoError(t, s.InsertInvoice(ctx, first))

	dup := &models.TeacherInvoice{ID: uuid.New(), TeacherID: teacherID, Month: 1, Year: 2026}
	err := s.InsertInvoice(ctx, dup)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	// Adjustments share the period with the original.
	adj := &models.TeacherInvoice{ID: uuid.New(), TeacherID: teacherID, Month: 1, Year: 2026, IsAdjustment: true}
	require.NoError(t, s.InsertInvoice(ctx, adj))
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	inv := &models.TeacherInvoice{ID: uuid.New(), TeacherID: uuid.New(), Month: 1, Year: 2026}
	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(tx store.Store) error {
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetInvoice(ctx, inv.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuditEntriesAreWriteOnce(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	entry := &models.AuditLogEntry{ID: uuid.New(), Action: domain.ActionPublish, EntityType: domain.EntityInvoice, EntityID: "a", Actor: "admin-1", Success: true, CreatedAt: time.Now()}
	require.NoError(t, s.InsertAuditEntry(ctx, entry))

	err := s.InsertAuditEntry(ctx, entry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write-once")
}

func TestListInvoicesOrderingAndPagination(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	teacherID := uuid.New()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, period := range []struct{ month, year int }{{11, 2025}, {12, 2025}, {1, 2026}} {
		inv := &models.TeacherInvoice{
			ID: uuid.New(), TeacherID: teacherID,
			Month: period.month, Year: period.year,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, s.InsertInvoice(ctx, inv))
	}

	all, err := s.ListInvoices(ctx, models.InvoiceFilter{TeacherID: &teacherID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 1, all[0].Month)
	assert.Equal(t, 2026, all[0].Year)
	assert.Equal(t, 11, all[2].Month)

	page, err := s.ListInvoices(ctx, models.InvoiceFilter{TeacherID: &teacherID, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, 12, page[0].Month)
}

package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/models"
	"github.com/tutorlane/payroll-engine/internal/store"
)

func (f *fixture) writeAudit(t *testing.T, rec AuditRecord) {
	t.Helper()
	err := f.store.RunInTx(context.Background(), func(tx store.Store) error {
		return f.audit.Write(context.Background(), tx, rec)
	})
	require.NoError(t, err)
}

func TestAuditWriteDefaultsToSystemActor(t *testing.T) {
	f := newFixture()
	f.writeAudit(t, AuditRecord{
		Action:     domain.ActionJobRun,
		EntityType: domain.EntityJob,
		EntityID:   "2026-01",
		Success:    true,
	})

	entries, err := f.audit.ByActor(context.Background(), domain.ActorSystem, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActorSystem, entries[0].Actor)
	assert.Equal(t, domain.ActorRoleSystem, entries[0].ActorRole)
	assert.Equal(t, f.clock.T, entries[0].CreatedAt)
}

func TestAuditWriteComputesDiff(t *testing.T) {
	f := newFixture()
	f.writeAudit(t, AuditRecord{
		Action:     domain.ActionSettingsUpdate,
		EntityType: domain.EntitySettings,
		EntityID:   domain.SettingsKey,
		Actor:      adminActor,
		Before:     map[string]any{"rate_model": "flat", "version": 1},
		After:      map[string]any{"rate_model": "progressive", "version": 2},
		Success:    true,
	})

	entries, err := f.audit.ByEntity(context.Background(), domain.EntitySettings, domain.SettingsKey, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var diff map[string]map[string]any
	require.NoError(t, json.Unmarshal(entries[0].Diff, &diff))
	require.Contains(t, diff, "rate_model")
	assert.Equal(t, "flat", diff["rate_model"]["from"])
	assert.Equal(t, "progressive", diff["rate_model"]["to"])
	require.Contains(t, diff, "version")
}

func TestAuditSearchFilters(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.writeAudit(t, AuditRecord{Action: domain.ActionPublish, EntityType: domain.EntityInvoice, EntityID: "a", Actor: adminActor, Success: true})
	f.writeAudit(t, AuditRecord{Action: domain.ActionMarkPaid, EntityType: domain.EntityInvoice, EntityID: "a", Actor: adminActor, Success: true})
	f.writeAudit(t, AuditRecord{Action: domain.ActionJobFail, EntityType: domain.EntityJob, EntityID: "2026-01", Success: false})

	byAction, err := f.audit.Search(ctx, models.AuditFilter{Action: domain.ActionPublish})
	require.NoError(t, err)
	require.Len(t, byAction, 1)

	byEntity, err := f.audit.Search(ctx, models.AuditFilter{EntityType: domain.EntityInvoice, EntityID: "a"})
	require.NoError(t, err)
	assert.Len(t, byEntity, 2)

	byActor, err := f.audit.ByActor(ctx, adminActor.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, byActor, 2)

	limited, err := f.audit.Search(ctx, models.AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAuditStatistics(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.writeAudit(t, AuditRecord{Action: domain.ActionPublish, EntityType: domain.EntityInvoice, EntityID: "a", Success: true})
	f.writeAudit(t, AuditRecord{Action: domain.ActionPublish, EntityType: domain.EntityInvoice, EntityID: "b", Success: true})
	f.writeAudit(t, AuditRecord{Action: domain.ActionJobFail, EntityType: domain.EntityJob, EntityID: "x", Success: false})

	from := f.clock.T.Add(-time.Hour)
	to := f.clock.T.Add(time.Hour)
	stats, err := f.audit.Statistics(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.Succeeded)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(2), stats.ByAction[domain.ActionPublish])
	assert.Equal(t, int64(1), stats.ByEntityType[domain.EntityJob])

	// Inverted range is refused.
	_, err = f.audit.Statistics(ctx, to, from)
	require.ErrorIs(t, err, domain.ErrValidation)
}

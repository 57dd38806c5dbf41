package service

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/models"
	"github.com/tutorlane/payroll-engine/internal/observability"
	"github.com/tutorlane/payroll-engine/internal/store"
)

// Actor identifies who triggered a mutation. The zero value means the
// system itself acted.
type Actor struct {
	ID   string
	Role string
}

// SystemActor is used by workers and scheduled jobs.
var SystemActor = Actor{ID: domain.ActorSystem, Role: domain.ActorRoleSystem}

// AuditRecord is the caller-facing shape of one ledger write. Before and
// After are serialized as-is; Diff is derived from them.
type AuditRecord struct {
	Action       string
	EntityType   string
	EntityID     string
	Actor        Actor
	Before       any
	After        any
	Reason       string
	Success      bool
	ErrorMessage string
}

// AuditService writes and queries the append-only audit ledger. Writes
// happen inside the caller's transaction so a failed ledger write rolls
// back the mutation it records.
type AuditService struct {
	store store.Store
	clock domain.Clock
}

func NewAuditService(st store.Store, clock domain.Clock) *AuditService {
	return &AuditService{store: st, clock: clock}
}

// Write appends one record through st, which is the transaction the
// triggering mutation runs in.
func (s *AuditService) Write(ctx context.Context, st store.Store, rec AuditRecord) error {
	entry := &models.AuditLogEntry{
		ID:           uuid.New(),
		Action:       rec.Action,
		EntityType:   rec.EntityType,
		EntityID:     rec.EntityID,
		Actor:        rec.Actor.ID,
		ActorRole:    rec.Actor.Role,
		Reason:       rec.Reason,
		Success:      rec.Success,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    s.clock.Now(),
	}
	if entry.Actor == "" {
		entry.Actor = domain.ActorSystem
		entry.ActorRole = domain.ActorRoleSystem
	}

	var err error
	if entry.Before, err = marshalState(rec.Before); err != nil {
		return fmt.Errorf("encode audit before state: %w", err)
	}
	if entry.After, err = marshalState(rec.After); err != nil {
		return fmt.Errorf("encode audit after state: %w", err)
	}
	entry.Diff = diffStates(entry.Before, entry.After)

	if err := st.InsertAuditEntry(ctx, entry); err != nil {
		observability.IncrementAuditFailure()
		return fmt.Errorf("audit write: %w", err)
	}
	return nil
}

func marshalState(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// diffStates produces {"field": {"from": x, "to": y}} for top-level fields
// that changed between before and after. Consumers only display it.
func diffStates(before, after json.RawMessage) json.RawMessage {
	if len(before) == 0 || len(after) == 0 {
		return nil
	}
	var b, a map[string]any
	if json.Unmarshal(before, &b) != nil || json.Unmarshal(after, &a) != nil {
		return nil
	}

	diff := map[string]map[string]any{}
	for key, newVal := range a {
		oldVal, existed := b[key]
		if existed && reflect.DeepEqual(oldVal, newVal) {
			continue
		}
		diff[key] = map[string]any{"from": oldVal, "to": newVal}
	}
	for key, oldVal := range b {
		if _, still := a[key]; !still {
			diff[key] = map[string]any{"from": oldVal, "to": nil}
		}
	}
	if len(diff) == 0 {
		return nil
	}
	raw, err := json.Marshal(diff)
	if err != nil {
		return nil
	}
	return raw
}

func (s *AuditService) ByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLogEntry, error) {
	return s.store.AuditByEntity(ctx, entityType, entityID, limit, offset)
}

func (s *AuditService) ByActor(ctx context.Context, actor string, limit, offset int) ([]models.AuditLogEntry, error) {
	return s.store.AuditByActor(ctx, actor, limit, offset)
}

func (s *AuditService) Search(ctx context.Context, f models.AuditFilter) ([]models.AuditLogEntry, error) {
	return s.store.SearchAudit(ctx, f)
}

func (s *AuditService) Statistics(ctx context.Context, from, to time.Time) (*models.AuditStatistics, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("statistics range end must be after start: %w", domain.ErrValidation)
	}
	return s.store.AuditStatistics(ctx, from, to)
}

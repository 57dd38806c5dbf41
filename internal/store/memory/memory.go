// Package memory provides an in-memory store.Store used by unit tests and
// local development. Semantics mirror the Postgres implementation:
// versioned updates, write-once audit entries, and transactional rollback.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/models"
	"github.com/tutorlane/payroll-engine/internal/store"
)

type state struct {
	Settings *models.SalarySettings
	Rates    map[string]*models.CurrencyRate
	Invoices map[uuid.UUID]*models.TeacherInvoice
	Audit    []models.AuditLogEntry
}

// Store is a mutex-guarded in-memory store. RunInTx snapshots the state
// and restores it when fn fails, so a failed audit write rolls back the
// mutation it accompanies, same as Postgres.
type Store struct {
	mu    *sync.Mutex
	state *state
	inTx  bool

	// FailAuditWrites makes InsertAuditEntry fail; tests use it to prove
	// that mutations roll back when the ledger write fails.
	FailAuditWrites bool
}

func NewStore() *Store {
	return &Store{
		mu: &sync.Mutex{},
		state: &state{
			Rates:    map[string]*models.CurrencyRate{},
			Invoices: map[uuid.UUID]*models.TeacherInvoice{},
		},
	}
}

// lock takes the store mutex unless the caller is already inside a
// transaction, which holds it for the duration of fn.
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) RunInTx(ctx context.Context, fn func(store.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := clone(*s.state)
	tx := &Store{mu: s.mu, state: s.state, inTx: true, FailAuditWrites: s.FailAuditWrites}
	if err := fn(tx); err != nil {
		*s.state = backup
		return err
	}
	return nil
}

func clone[T any](v T) T {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("memory store clone: %v", err))
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		panic(fmt.Sprintf("memory store clone: %v", err))
	}
	return out
}

// --- salary settings ---

func (s *Store) GetSettings(ctx context.Context) (*models.SalarySettings, error) {
	defer s.lock()()
	if s.state.Settings == nil {
		return nil, fmt.Errorf("salary settings: %w", domain.ErrNotFound)
	}
	out := clone(*s.state.Settings)
	return &out, nil
}

func (s *Store) InsertSettings(ctx context.Context, settings *models.SalarySettings) error {
	defer s.lock()()
	if s.state.Settings != nil {
		return fmt.Errorf("salary settings already exist: %w", domain.ErrConcurrencyConflict)
	}
	settings.Key = domain.SettingsKey
	if settings.Version == 0 {
		settings.Version = 1
	}
	stored := clone(*settings)
	s.state.Settings = &stored
	return nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings *models.SalarySettings) error {
	defer s.lock()()
	if s.state.Settings == nil {
		return fmt.Errorf("salary settings: %w", domain.ErrNotFound)
	}
	if s.state.Settings.Version != settings.Version {
		return fmt.Errorf("salary settings version %d is stale: %w", settings.Version, domain.ErrConcurrencyConflict)
	}
	settings.Version++
	stored := clone(*settings)
	s.state.Settings = &stored
	return nil
}

// --- currency rates ---

func rateKey(base, target string, year, month int) string {
	return fmt.Sprintf("%s/%s/%d/%02d", base, target, year, month)
}

func (s *Store) GetRate(ctx context.Context, base, target string, year, month int) (*models.CurrencyRate, error) {
	defer s.lock()()
	rate, ok := s.state.Rates[rateKey(base, target, year, month)]
	if !ok {
		return nil, fmt.Errorf("currency rate %s/%s %d-%02d: %w", base, target, year, month, domain.ErrNotFound)
	}
	out := clone(*rate)
	return &out, nil
}

func (s *Store) InsertRate(ctx context.Context, rate *models.CurrencyRate) error {
	defer s.lock()()
	key := rateKey(rate.BaseCurrency, rate.TargetCurrency, rate.Year, rate.Month)
	if _, ok := s.state.Rates[key]; ok {
		return fmt.Errorf("currency rate %s already exists: %w", key, domain.ErrConcurrencyConflict)
	}
	if rate.Version == 0 {
		rate.Version = 1
	}
	stored := clone(*rate)
	s.state.Rates[key] = &stored
	return nil
}

func (s *Store) UpdateRate(ctx context.Context, rate *models.CurrencyRate) error {
	defer s.lock()()
	key := rateKey(rate.BaseCurrency, rate.TargetCurrency, rate.Year, rate.Month)
	existing, ok := s.state.Rates[key]
	if !ok {
		return fmt.Errorf("currency rate %s: %w", key, domain.ErrNotFound)
	}
	if existing.Version != rate.Version {
		return fmt.Errorf("currency rate %s version %d is stale: %w", key, rate.Version, domain.ErrConcurrencyConflict)
	}
	rate.Version++
	stored := clone(*rate)
	s.state.Rates[key] = &stored
	return nil
}

func (s *Store) ListRatePairs(ctx context.Context) ([]models.CurrencyPair, error) {
	defer s.lock()()
	seen := map[models.CurrencyPair]struct{}{}
	var pairs []models.CurrencyPair
	for _, r := range s.state.Rates {
		p := models.CurrencyPair{Base: r.BaseCurrency, Target: r.TargetCurrency}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Base != pairs[j].Base {
			return pairs[i].Base < pairs[j].Base
		}
		return pairs[i].Target < pairs[j].Target
	})
	return pairs, nil
}

// --- invoices ---

func (s *Store) GetInvoice(ctx context.Context, id uuid.UUID) (*models.TeacherInvoice, error) {
	defer s.lock()()
	inv, ok := s.state.Invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", id, domain.ErrNotFound)
	}
	out := clone(*inv)
	return &out, nil
}

func (s *Store) GetInvoiceForPeriod(ctx context.Context, teacherID uuid.UUID, month, year int) (*models.TeacherInvoice, error) {
	defer s.lock()()
	for _, inv := range s.state.Invoices {
		if inv.TeacherID == teacherID && inv.Month == month && inv.Year == year &&
			!inv.IsAdjustment && !inv.Deleted {
			out := clone(*inv)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("invoice for teacher %s %d-%02d: %w", teacherID, year, month, domain.ErrNotFound)
}

func (s *Store) ListInvoices(ctx context.Context, f models.InvoiceFilter) ([]models.TeacherInvoice, error) {
	defer s.lock()()
	var out []models.TeacherInvoice
	for _, inv := range s.state.Invoices {
		if f.TeacherID != nil && inv.TeacherID != *f.TeacherID {
			continue
		}
		if f.Month != nil && inv.Month != *f.Month {
			continue
		}
		if f.Year != nil && inv.Year != *f.Year {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		if !f.IncludeDeleted && inv.Deleted {
			continue
		}
		out = append(out, clone(*inv))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		if out[i].Month != out[j].Month {
			return out[i].Month > out[j].Month
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	out = paginate(out, f.Limit, f.Offset)
	return out, nil
}

func (s *Store) CountNumberedForPeriod(ctx context.Context, month, year int) (int64, error) {
	defer s.lock()()
	var count int64
	for _, inv := range s.state.Invoices {
		if inv.Month == month && inv.Year == year && inv.InvoiceNumber != "" {
			count++
		}
	}
	return count, nil
}

func (s *Store) CountPublishedForPeriod(ctx context.Context, month, year int) (int64, error) {
	defer s.lock()()
	var count int64
	for _, inv := range s.state.Invoices {
		if inv.Month == month && inv.Year == year && !inv.Deleted &&
			(inv.Status == domain.InvoiceStatusPublished || inv.Status == domain.InvoiceStatusPaid) {
			count++
		}
	}
	return count, nil
}

func (s *Store) InsertInvoice(ctx context.Context, inv *models.TeacherInvoice) error {
	defer s.lock()()
	if _, ok := s.state.Invoices[inv.ID]; ok {
		return fmt.Errorf("invoice %s already exists: %w", inv.ID, domain.ErrConcurrencyConflict)
	}
	if !inv.IsAdjustment && !inv.Deleted {
		for _, existing := range s.state.Invoices {
			if existing.TeacherID == inv.TeacherID && existing.Month == inv.Month &&
				existing.Year == inv.Year && !existing.IsAdjustment && !existing.Deleted {
				return fmt.Errorf("invoice for teacher %s %d-%02d already exists: %w",
					inv.TeacherID, inv.Year, inv.Month, domain.ErrConcurrencyConflict)
			}
		}
	}
	if inv.Version == 0 {
		inv.Version = 1
	}
	stored := clone(*inv)
	s.state.Invoices[inv.ID] = &stored
	return nil
}

func (s *Store) UpdateInvoice(ctx context.Context, inv *models.TeacherInvoice) error {
	defer s.lock()()
	existing, ok := s.state.Invoices[inv.ID]
	if !ok {
		return fmt.Errorf("invoice %s: %w", inv.ID, domain.ErrNotFound)
	}
	if existing.Version != inv.Version {
		return fmt.Errorf("invoice %s version %d is stale: %w", inv.ID, inv.Version, domain.ErrConcurrencyConflict)
	}
	inv.Version++
	stored := clone(*inv)
	s.state.Invoices[inv.ID] = &stored
	return nil
}

// --- audit ledger ---

func (s *Store) InsertAuditEntry(ctx context.Context, e *models.AuditLogEntry) error {
	defer s.lock()()
	if s.FailAuditWrites {
		return fmt.Errorf("insert audit entry: %w", domain.ErrUpstreamUnavailable)
	}
	for _, existing := range s.state.Audit {
		if existing.ID == e.ID {
			return fmt.Errorf("audit entry %s is write-once", e.ID)
		}
	}
	s.state.Audit = append(s.state.Audit, clone(*e))
	return nil
}

func (s *Store) AuditByEntity(ctx context.Context, entityType, entityID string, limit, offset int) ([]models.AuditLogEntry, error) {
	return s.SearchAudit(ctx, models.AuditFilter{EntityType: entityType, EntityID: entityID, Limit: limit, Offset: offset})
}

func (s *Store) AuditByActor(ctx context.Context, actor string, limit, offset int) ([]models.AuditLogEntry, error) {
	return s.SearchAudit(ctx, models.AuditFilter{Actor: actor, Limit: limit, Offset: offset})
}

func (s *Store) SearchAudit(ctx context.Context, f models.AuditFilter) ([]models.AuditLogEntry, error) {
	defer s.lock()()
	var out []models.AuditLogEntry
	for _, e := range s.state.Audit {
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if f.Actor != "" && e.Actor != f.Actor {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.From != nil && e.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !e.CreatedAt.Before(*f.To) {
			continue
		}
		out = append(out, clone(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	out = paginate(out, f.Limit, f.Offset)
	return out, nil
}

func (s *Store) AuditStatistics(ctx context.Context, from, to time.Time) (*models.AuditStatistics, error) {
	defer s.lock()()
	stats := &models.AuditStatistics{
		ByAction:     map[string]int64{},
		ByEntityType: map[string]int64{},
		From:         from,
		To:           to,
	}
	for _, e := range s.state.Audit {
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		stats.Total++
		if e.Success {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
		stats.ByAction[e.Action]++
		stats.ByEntityType[e.EntityType]++
	}
	return stats, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ store.Store = (*Store)(nil)

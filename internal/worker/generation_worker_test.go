package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/gateway"
	"github.com/tutorlane/payroll-engine/internal/lock"
	"github.com/tutorlane/payroll-engine/internal/models"
	"github.com/tutorlane/payroll-engine/internal/service"
	"github.com/tutorlane/payroll-engine/internal/store/memory"
)

// adjustableClock lets the tests walk the worker through its schedule
// window.
type adjustableClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *adjustableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *adjustableClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newGenerationFixture(clock domain.Clock) (*service.GenerationService, *memory.Store, *gateway.MockTeacherDirectory) {
	st := memory.NewStore()
	directory := gateway.NewMockTeacherDirectory()
	audit := service.NewAuditService(st, clock)
	settings := service.NewSettingsService(st, audit, clock)
	currency := service.NewCurrencyService(st, audit, clock, nil, time.Second)
	invoices := service.NewInvoiceService(st, audit, settings, currency,
		directory, gateway.NewMockHourAggregator(), &gateway.MockNotifier{}, clock)
	generation := service.NewGenerationService(st, invoices, audit,
		directory, lock.NewMemoryLocker(), time.Minute, clock)
	return generation, st, directory
}

func jobRuns(t *testing.T, st *memory.Store) int {
	t.Helper()
	entries, err := st.SearchAudit(context.Background(), models.AuditFilter{Action: domain.ActionJobRun})
	require.NoError(t, err)
	return len(entries)
}

func TestGenerationWorkerRunsOncePerPeriod(t *testing.T) {
	clock := &adjustableClock{t: time.Date(2026, 2, 1, 2, 30, 0, 0, time.UTC)}
	svc, st, _ := newGenerationFixture(clock)
	w := NewGenerationWorker(svc, clock, 1, 2)

	// Inside the window: runs once, then dedupes within the same period.
	w.maybeRun(context.Background())
	assert.Equal(t, 1, jobRuns(t, st))
	w.maybeRun(context.Background())
	assert.Equal(t, 1, jobRuns(t, st))

	// Next month's window triggers again.
	clock.Set(time.Date(2026, 3, 1, 2, 5, 0, 0, time.UTC))
	w.maybeRun(context.Background())
	assert.Equal(t, 2, jobRuns(t, st))
}

func TestGenerationWorkerIgnoresOutOfWindowTicks(t *testing.T) {
	clock := &adjustableClock{t: time.Date(2026, 2, 15, 2, 0, 0, 0, time.UTC)}
	svc, st, _ := newGenerationFixture(clock)
	w := NewGenerationWorker(svc, clock, 1, 2)

	w.maybeRun(context.Background())
	assert.Equal(t, 0, jobRuns(t, st))

	// Right day, wrong hour.
	clock.Set(time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC))
	w.maybeRun(context.Background())
	assert.Equal(t, 0, jobRuns(t, st))
}

func TestGenerationWorkerRetriesAfterTransientFailure(t *testing.T) {
	clock := &adjustableClock{t: time.Date(2026, 2, 1, 2, 0, 0, 0, time.UTC)}
	svc, st, directory := newGenerationFixture(clock)
	w := NewGenerationWorker(svc, clock, 1, 2)

	// 1. The upstream is down on the first tick: nothing runs, nothing is
	// marked done.
	directory.Err = errors.New("directory down")
	w.maybeRun(context.Background())
	assert.Equal(t, 0, jobRuns(t, st))

	// 2. It recovers inside the same window: the next tick picks the
	// period back up.
	directory.Err = nil
	clock.Set(time.Date(2026, 2, 1, 2, 1, 0, 0, time.UTC))
	w.maybeRun(context.Background())
	assert.Equal(t, 1, jobRuns(t, st))

	// 3. The successful run is what dedupes further ticks.
	w.maybeRun(context.Background())
	assert.Equal(t, 1, jobRuns(t, st))
}

func TestGenerationWorkerClampsConfig(t *testing.T) {
	w := NewGenerationWorker(nil, domain.RealClock{}, 31, 99)
	assert.Equal(t, 1, w.day)
	assert.Equal(t, 2, w.hour)
}

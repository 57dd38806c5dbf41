package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/models"
)

// MockHourAggregator serves canned hour totals keyed by teacher and period.
type MockHourAggregator struct {
	mu      sync.Mutex
	entries map[string]hourEntry
	errs    map[string]error
	// Err, when set, is returned from every call.
	Err error
}

type hourEntry struct {
	hours    decimal.Decimal
	classIDs []uuid.UUID
}

func NewMockHourAggregator() *MockHourAggregator {
	return &MockHourAggregator{entries: map[string]hourEntry{}, errs: map[string]error{}}
}

func hourKey(teacherID uuid.UUID, month, year int) string {
	return fmt.Sprintf("%s/%d-%02d", teacherID, year, month)
}

// SetHours registers the hours the aggregator reports for a teacher/period.
func (m *MockHourAggregator) SetHours(teacherID uuid.UUID, month, year int, hours decimal.Decimal, classIDs []uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[hourKey(teacherID, month, year)] = hourEntry{hours: hours, classIDs: classIDs}
}

// SetError makes the aggregator fail for one teacher/period only.
func (m *MockHourAggregator) SetError(teacherID uuid.UUID, month, year int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[hourKey(teacherID, month, year)] = err
}

func (m *MockHourAggregator) AggregateHours(ctx context.Context, teacherID uuid.UUID, month, year int) (decimal.Decimal, []uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return decimal.Zero, nil, m.Err
	}
	if err := m.errs[hourKey(teacherID, month, year)]; err != nil {
		return decimal.Zero, nil, err
	}
	e, ok := m.entries[hourKey(teacherID, month, year)]
	if !ok {
		return decimal.Zero, nil, nil
	}
	return e.hours, e.classIDs, nil
}

// MockTeacherDirectory is an in-memory teacher registry.
type MockTeacherDirectory struct {
	mu       sync.Mutex
	teachers map[uuid.UUID]*models.Teacher
	// Err, when set, is returned from every call.
	Err error
}

func NewMockTeacherDirectory(teachers ...models.Teacher) *MockTeacherDirectory {
	m := &MockTeacherDirectory{teachers: map[uuid.UUID]*models.Teacher{}}
	for i := range teachers {
		t := teachers[i]
		m.teachers[t.ID] = &t
	}
	return m
}

func (m *MockTeacherDirectory) Add(t models.Teacher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teachers[t.ID] = &t
}

func (m *MockTeacherDirectory) GetTeacher(ctx context.Context, id uuid.UUID) (*models.Teacher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	t, ok := m.teachers[id]
	if !ok {
		return nil, fmt.Errorf("teacher %s: %w", id, domain.ErrNotFound)
	}
	out := *t
	return &out, nil
}

func (m *MockTeacherDirectory) ListActiveTeachers(ctx context.Context) ([]models.Teacher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []models.Teacher
	for _, t := range m.teachers {
		if t.Active {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *MockTeacherDirectory) RecordPayment(ctx context.Context, id uuid.UUID, hours, netUSD decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	t, ok := m.teachers[id]
	if !ok {
		return fmt.Errorf("teacher %s: %w", id, domain.ErrNotFound)
	}
	t.TotalHoursYTD = t.TotalHoursYTD.Add(hours)
	t.TotalEarningsYTD = t.TotalEarningsYTD.Add(netUSD)
	return nil
}

// MockRateSource returns a fixed rate for every pair.
type MockRateSource struct {
	SourceName  string
	Reliable    string
	Rate        decimal.Decimal
	Err         error
	fetchCalled int
	mu          sync.Mutex
}

func (m *MockRateSource) Name() string        { return m.SourceName }
func (m *MockRateSource) Reliability() string { return m.Reliable }

func (m *MockRateSource) FetchRate(ctx context.Context, base, target string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalled++
	if m.Err != nil {
		return decimal.Zero, m.Err
	}
	return m.Rate, nil
}

func (m *MockRateSource) FetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalled
}

// MockNotifier records delivered events for assertions.
type MockNotifier struct {
	mu        sync.Mutex
	Published []uuid.UUID
	Paid      []uuid.UUID
	Err       error
}

func (m *MockNotifier) InvoicePublished(ctx context.Context, teacherID, invoiceID uuid.UUID, number string, period time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Published = append(m.Published, invoiceID)
	return nil
}

func (m *MockNotifier) InvoicePaid(ctx context.Context, teacherID, invoiceID uuid.UUID, number string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Paid = append(m.Paid, invoiceID)
	return nil
}

func (m *MockNotifier) PublishedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Published)
}

var (
	_ HourAggregator   = (*MockHourAggregator)(nil)
	_ TeacherDirectory = (*MockTeacherDirectory)(nil)
	_ RateSource       = (*MockRateSource)(nil)
	_ Notifier         = (*MockNotifier)(nil)
)

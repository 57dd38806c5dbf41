// Package gateway defines the platform collaborators the salary engine
// depends on but does not own: the class-hours aggregator, the teacher
// directory, exchange-rate sources and outbound notifications.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tutorlane/payroll-engine/internal/models"
)

// HourAggregator reports the finalized teaching hours for a teacher in a
// billing period, together with the class sessions that produced them.
type HourAggregator interface {
	// AggregateHours returns total completed hours and the contributing
	// class IDs for the given teacher and period.
	AggregateHours(ctx context.Context, teacherID uuid.UUID, month, year int) (decimal.Decimal, []uuid.UUID, error)
}

// TeacherDirectory exposes the platform's teacher records. The salary
// engine never owns teacher data; it reads profiles and writes back
// year-to-date running totals after payment.
type TeacherDirectory interface {
	GetTeacher(ctx context.Context, id uuid.UUID) (*models.Teacher, error)
	ListActiveTeachers(ctx context.Context) ([]models.Teacher, error)
	// RecordPayment adds the paid hours and net amount to the teacher's
	// year-to-date totals.
	RecordPayment(ctx context.Context, id uuid.UUID, hours, netUSD decimal.Decimal) error
}

// RateSource is one upstream exchange-rate provider.
type RateSource interface {
	Name() string
	// Reliability is one of the domain.Reliability* grades.
	Reliability() string
	FetchRate(ctx context.Context, base, target string) (decimal.Decimal, error)
}

// Notifier delivers invoice lifecycle events to teachers. Failures are
// logged, never propagated into the invoice transaction.
type Notifier interface {
	InvoicePublished(ctx context.Context, teacherID uuid.UUID, invoiceID uuid.UUID, number string, period time.Time) error
	InvoicePaid(ctx context.Context, teacherID uuid.UUID, invoiceID uuid.UUID, number string) error
}

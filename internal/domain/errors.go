package domain

import "errors"

// Error taxonomy shared by services and mapped to problem responses at the
// API edge. Wrap with fmt.Errorf("...: %w", Err...) to add context.
var (
	// ErrValidation covers bad input: malformed partition ranges, a missing
	// snapshot at publish time, negative bonus amounts.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidStateTransition is returned when an operation is attempted
	// on an invoice in the wrong status.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrNotFound covers missing invoices, ledger entries and partitions.
	ErrNotFound = errors.New("not found")

	// ErrConcurrencyConflict is returned when the generation lock is held
	// or a versioned update loses a write race.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrUpstreamUnavailable is returned when an hour-aggregation or FX
	// quote call fails or times out.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RatePartition is a contiguous hour-count tier with its own USD hourly
// rate. Active partitions are expected not to overlap; that expectation is
// validated but not enforced at write time.
type RatePartition struct {
	Name     string          `json:"name"`
	MinHours decimal.Decimal `json:"min_hours"`
	MaxHours decimal.Decimal `json:"max_hours"`
	RateUSD  decimal.Decimal `json:"rate_usd"`
	IsActive bool            `json:"is_active"`
}

// TransferFee describes how the payout transfer fee is charged.
type TransferFee struct {
	Model string          `json:"model"` // flat | percentage | none
	Value decimal.Decimal `json:"value"`
}

// SettingsChange is one append-only entry in the settings change history.
type SettingsChange struct {
	Field     string          `json:"field"`
	OldValue  json.RawMessage `json:"old_value,omitempty"`
	NewValue  json.RawMessage `json:"new_value,omitempty"`
	ChangedBy string          `json:"changed_by"`
	ChangedAt time.Time       `json:"changed_at"`
	Note      string          `json:"note,omitempty"`
}

// SalarySettings is the process-wide singleton configuration row,
// identified by domain.SettingsKey. It is created lazily on first access
// and updated in place with a version counter.
type SalarySettings struct {
	Key                string           `json:"key"`
	RateModel          string           `json:"rate_model"`
	RatePartitions     []RatePartition  `json:"rate_partitions"`
	DefaultTransferFee TransferFee      `json:"default_transfer_fee"`
	ChangeHistory      []SettingsChange `json:"change_history"`
	Version            int64            `json:"version"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// RateQuote is one source's quote for a currency pair in a period. At most
// one quote per source name; refreshes upsert by name.
type RateQuote struct {
	SourceName  string          `json:"source_name"`
	Rate        decimal.Decimal `json:"rate"`
	Reliability string          `json:"reliability"` // high | medium | low
	FetchedAt   time.Time       `json:"fetched_at"`
}

// ActiveRate is the rate actually used for conversions in a period, chosen
// automatically from the highest-reliability source or set by an admin.
type ActiveRate struct {
	Value      decimal.Decimal `json:"value"`
	Source     string          `json:"source"`
	SelectedBy string          `json:"selected_by"`
	SelectedAt time.Time       `json:"selected_at"`
	Note       string          `json:"note,omitempty"`
}

// CurrencyRate holds all FX quotes and the active selection for one
// (base, target, year, month). Created on first access, never deleted.
type CurrencyRate struct {
	ID             uuid.UUID   `json:"id"`
	BaseCurrency   string      `json:"base_currency"`
	TargetCurrency string      `json:"target_currency"`
	Year           int         `json:"year"`
	Month          int         `json:"month"`
	Sources        []RateQuote `json:"sources"`
	ActiveRate     *ActiveRate `json:"active_rate,omitempty"`
	Version        int64       `json:"version"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// CurrencyPair identifies a base/target currency combination.
type CurrencyPair struct {
	Base   string `json:"base"`
	Target string `json:"target"`
}

// BonusEntry is an individually addressable bonus on an invoice.
// AmountUSD is always non-negative.
type BonusEntry struct {
	ID        uuid.UUID       `json:"id"`
	Source    string          `json:"source"` // guardian | admin
	AmountUSD decimal.Decimal `json:"amount_usd"`
	Reason    string          `json:"reason"`
	AddedBy   string          `json:"added_by"`
	AddedAt   time.Time       `json:"added_at"`
}

// ExtraEntry is an individually addressable signed adjustment on an
// invoice (penalties carry negative amounts).
type ExtraEntry struct {
	ID        uuid.UUID       `json:"id"`
	Category  string          `json:"category"` // reimbursement | bonus | penalty | other
	AmountUSD decimal.Decimal `json:"amount_usd"`
	Reason    string          `json:"reason"`
	AddedBy   string          `json:"added_by"`
	AddedAt   time.Time       `json:"added_at"`
}

// RateSnapshot freezes the resolved hourly rate at publish time.
type RateSnapshot struct {
	Partition string          `json:"partition"`
	Rate      decimal.Decimal `json:"rate"`
	Source    string          `json:"source"`
}

// ExchangeRateSnapshot freezes the USD→EGP rate used for the invoice.
type ExchangeRateSnapshot struct {
	Rate   decimal.Decimal `json:"rate"`
	Source string          `json:"source"`
	SetBy  string          `json:"set_by"`
}

// TransferFeeSnapshot freezes the fee terms applied to the invoice.
type TransferFeeSnapshot struct {
	Model  string          `json:"model"`
	Value  decimal.Decimal `json:"value"`
	Source string          `json:"source"` // teacher_custom | global_default
}

// InvoiceOverrides carries optional admin replacements for derived totals.
// A non-nil field replaces the computed value verbatim and feeds forward
// into dependent computations downstream.
type InvoiceOverrides struct {
	GrossAmountUSD *decimal.Decimal `json:"gross_amount_usd,omitempty"`
	BonusesUSD     *decimal.Decimal `json:"bonuses_usd,omitempty"`
	ExtrasUSD      *decimal.Decimal `json:"extras_usd,omitempty"`
	TotalUSD       *decimal.Decimal `json:"total_usd,omitempty"`
	GrossAmountEGP *decimal.Decimal `json:"gross_amount_egp,omitempty"`
	BonusesEGP     *decimal.Decimal `json:"bonuses_egp,omitempty"`
	ExtrasEGP      *decimal.Decimal `json:"extras_egp,omitempty"`
	TotalEGP       *decimal.Decimal `json:"total_egp,omitempty"`
	TransferFeeEGP *decimal.Decimal `json:"transfer_fee_egp,omitempty"`
	NetAmountEGP   *decimal.Decimal `json:"net_amount_egp,omitempty"`
	ExchangeRate   *decimal.Decimal `json:"exchange_rate,omitempty"`
}

// IsZero reports whether no override is set.
func (o InvoiceOverrides) IsZero() bool {
	return o.GrossAmountUSD == nil && o.BonusesUSD == nil && o.ExtrasUSD == nil &&
		o.TotalUSD == nil && o.GrossAmountEGP == nil && o.BonusesEGP == nil &&
		o.ExtrasEGP == nil && o.TotalEGP == nil && o.TransferFeeEGP == nil &&
		o.NetAmountEGP == nil && o.ExchangeRate == nil
}

// InvoiceTotals holds the derived amounts, recomputed on every mutation
// unless overridden.
type InvoiceTotals struct {
	GrossAmountUSD decimal.Decimal `json:"gross_amount_usd"`
	BonusesUSD     decimal.Decimal `json:"bonuses_usd"`
	ExtrasUSD      decimal.Decimal `json:"extras_usd"`
	TotalUSD       decimal.Decimal `json:"total_usd"`
	GrossAmountEGP decimal.Decimal `json:"gross_amount_egp"`
	BonusesEGP     decimal.Decimal `json:"bonuses_egp"`
	ExtrasEGP      decimal.Decimal `json:"extras_egp"`
	TotalEGP       decimal.Decimal `json:"total_egp"`
	TransferFeeEGP decimal.Decimal `json:"transfer_fee_egp"`
	NetAmountEGP   decimal.Decimal `json:"net_amount_egp"`
}

// InvoiceChange is one append-only entry in an invoice's change history.
type InvoiceChange struct {
	Action    string          `json:"action"`
	OldValue  json.RawMessage `json:"old_value,omitempty"`
	NewValue  json.RawMessage `json:"new_value,omitempty"`
	ChangedBy string          `json:"changed_by"`
	ChangedAt time.Time       `json:"changed_at"`
	Note      string          `json:"note,omitempty"`
}

// Payment records how a published invoice was paid.
type Payment struct {
	Method        string    `json:"method"`
	TransactionID string    `json:"transaction_id"`
	PaidAt        time.Time `json:"paid_at"`
	PaidBy        string    `json:"paid_by"`
}

// TeacherInvoice is the payable document: one per (teacher, month, year)
// plus optional adjustment invoices referencing an original.
type TeacherInvoice struct {
	ID            uuid.UUID  `json:"id"`
	TeacherID     uuid.UUID  `json:"teacher_id"`
	Month         int        `json:"month"` // 1-12
	Year          int        `json:"year"`
	Status        string     `json:"status"`
	InvoiceNumber string     `json:"invoice_number,omitempty"`
	ShareToken    string     `json:"share_token,omitempty"`
	IsAdjustment  bool       `json:"is_adjustment"`
	AdjustmentFor *uuid.UUID `json:"adjustment_for,omitempty"`
	Deleted       bool       `json:"deleted"`

	TotalHours         decimal.Decimal `json:"total_hours"`
	ClassIDs           []uuid.UUID     `json:"class_ids"`
	LockedMonthlyHours decimal.Decimal `json:"locked_monthly_hours"`

	RateSnapshot         RateSnapshot         `json:"rate_snapshot"`
	ExchangeRateSnapshot ExchangeRateSnapshot `json:"exchange_rate_snapshot"`
	TransferFeeSnapshot  TransferFeeSnapshot  `json:"transfer_fee_snapshot"`

	Bonuses   []BonusEntry     `json:"bonuses"`
	Extras    []ExtraEntry     `json:"extras"`
	Overrides InvoiceOverrides `json:"overrides"`
	Totals    InvoiceTotals    `json:"totals"`

	Payment       *Payment        `json:"payment,omitempty"`
	ChangeHistory []InvoiceChange `json:"change_history"`

	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Frozen reports whether the snapshot blocks have been sealed. Snapshots
// are sealed at first publish and survive a later unpublish, the same way
// the invoice number and share token do.
func (i *TeacherInvoice) Frozen() bool {
	return i.PublishedAt != nil
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	TeacherID      *uuid.UUID
	Month          *int
	Year           *int
	Status         string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// CustomRate is a per-teacher hourly rate override. When enabled it wins
// over any partition lookup.
type CustomRate struct {
	Enabled bool            `json:"enabled"`
	RateUSD decimal.Decimal `json:"rate_usd"`
	Label   string          `json:"label,omitempty"`
}

// CustomTransferFee is a per-teacher transfer fee override.
type CustomTransferFee struct {
	Enabled bool            `json:"enabled"`
	Model   string          `json:"model"`
	Value   decimal.Decimal `json:"value"`
}

// Teacher is the read-model consumed from the user subsystem.
type Teacher struct {
	ID                uuid.UUID         `json:"id"`
	Name              string            `json:"name"`
	Email             string            `json:"email"`
	Active            bool              `json:"active"`
	CustomRate        CustomRate        `json:"custom_rate"`
	CustomTransferFee CustomTransferFee `json:"custom_transfer_fee"`
	TotalHoursYTD     decimal.Decimal   `json:"total_hours_ytd"`
	TotalEarningsYTD  decimal.Decimal   `json:"total_earnings_ytd"`
}

// AuditLogEntry is one write-once record in the shared audit ledger.
// Before/After/Diff are opaque serialized payloads; consumers display and
// diff them but never operate on their shape.
type AuditLogEntry struct {
	ID           uuid.UUID       `json:"id"`
	Action       string          `json:"action"`
	EntityType   string          `json:"entity_type"`
	EntityID     string          `json:"entity_id"`
	Actor        string          `json:"actor"`
	ActorRole    string          `json:"actor_role"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	Diff         json.RawMessage `json:"diff,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// AuditFilter narrows audit searches.
type AuditFilter struct {
	EntityType string
	EntityID   string
	Actor      string
	Action     string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// AuditStatistics summarizes ledger activity over a date range.
type AuditStatistics struct {
	Total        int64            `json:"total"`
	Succeeded    int64            `json:"succeeded"`
	Failed       int64            `json:"failed"`
	ByAction     map[string]int64 `json:"by_action"`
	ByEntityType map[string]int64 `json:"by_entity_type"`
	From         time.Time        `json:"from"`
	To           time.Time        `json:"to"`
}

package domain

// Currencies the engine bills in. Gross amounts are computed in USD and
// converted to EGP for payout.
const (
	CurrencyUSD = "USD"
	CurrencyEGP = "EGP"
)

// SettingsKey identifies the single salary settings row.
const SettingsKey = "default"

// Rate models. Progressive is accepted and stored but currently resolves
// identically to flat; the value is reserved for a future marginal-rate
// algorithm.
const (
	RateModelFlat        = "flat"
	RateModelProgressive = "progressive"
)

// Transfer fee models.
const (
	FeeModelFlat       = "flat"
	FeeModelPercentage = "percentage"
	FeeModelNone       = "none"
)

// Rate resolution sources.
const (
	RateSourceTeacherCustom = "teacher_custom"
	RateSourcePartition     = "partition"
	RateSourceTopTier       = "top_tier_fallback"
)

// Transfer fee snapshot sources.
const (
	FeeSourceTeacherCustom = "teacher_custom"
	FeeSourceGlobalDefault = "global_default"
)

// FX source reliability tiers, ordered high > medium > low.
const (
	ReliabilityHigh   = "high"
	ReliabilityMedium = "medium"
	ReliabilityLow    = "low"
)

// Invoice statuses.
const (
	InvoiceStatusDraft     = "draft"
	InvoiceStatusPublished = "published"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusArchived  = "archived"
)

// Bonus sources.
const (
	BonusSourceGuardian = "guardian"
	BonusSourceAdmin    = "admin"
)

// Extra categories.
const (
	ExtraCategoryReimbursement = "reimbursement"
	ExtraCategoryBonus         = "bonus"
	ExtraCategoryPenalty       = "penalty"
	ExtraCategoryOther         = "other"
)

// Audit actions. Closed enum: every mutating operation writes exactly one
// of these.
const (
	ActionInvoiceCreate    = "invoice_create"
	ActionInvoiceRefresh   = "invoice_refresh"
	ActionAdjustmentCreate = "adjustment_create"
	ActionAddBonus         = "add_bonus"
	ActionRemoveBonus      = "remove_bonus"
	ActionAddExtra         = "add_extra"
	ActionRemoveExtra      = "remove_extra"
	ActionSetOverrides     = "set_overrides"
	ActionPublish          = "publish"
	ActionUnpublish        = "unpublish"
	ActionMarkPaid         = "mark_paid"
	ActionArchive          = "archive"
	ActionSoftDelete       = "soft_delete"
	ActionSettingsUpdate   = "settings_update"
	ActionRateSourceAdd    = "rate_source_add"
	ActionRateActiveSet    = "rate_active_set"
	ActionRateBulkRefresh  = "rate_bulk_refresh"
	ActionJobRun           = "job_run"
	ActionJobFail          = "job_fail"
)

// Audit entity types.
const (
	EntityInvoice  = "invoice"
	EntitySettings = "settings"
	EntityRate     = "currency_rate"
	EntityJob      = "generation_job"
)

// ActorSystem is recorded when a mutation has no authenticated actor.
const (
	ActorSystem     = "system"
	ActorRoleSystem = "system"
	ActorRoleAdmin  = "admin"
)

// ReliabilityRank maps a reliability tier to its sort weight.
// Unknown tiers rank below low.
func ReliabilityRank(reliability string) int {
	switch reliability {
	case ReliabilityHigh:
		return 3
	case ReliabilityMedium:
		return 2
	case ReliabilityLow:
		return 1
	default:
		return 0
	}
}

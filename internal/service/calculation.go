package service

import (
	"github.com/shopspring/decimal"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/models"
)

// Recalculate recomputes every derived total on the invoice, in the fixed
// chain: hours → gross USD → bonuses USD → extras USD → total USD → EGP
// legs → total EGP → transfer fee → net EGP. Every monetary value is
// rounded to 2 decimals (hours to 3) immediately after computation, and a
// non-nil override replaces the computed value verbatim and feeds forward
// into everything downstream.
//
// currentExchangeRate supplies the USD→EGP rate when the invoice is not
// yet frozen; frozen invoices always convert at their sealed snapshot. An
// exchange-rate override wins over both.
func Recalculate(inv *models.TeacherInvoice, currentExchangeRate decimal.Decimal) {
	inv.TotalHours = domain.RoundHours(inv.TotalHours)
	ov := inv.Overrides
	t := &inv.Totals

	t.GrossAmountUSD = pick(ov.GrossAmountUSD, inv.TotalHours.Mul(inv.RateSnapshot.Rate))

	bonuses := decimal.Zero
	for _, b := range inv.Bonuses {
		bonuses = bonuses.Add(b.AmountUSD)
	}
	t.BonusesUSD = pick(ov.BonusesUSD, bonuses)

	extras := decimal.Zero
	for _, e := range inv.Extras {
		extras = extras.Add(e.AmountUSD)
	}
	t.ExtrasUSD = pick(ov.ExtrasUSD, extras)

	t.TotalUSD = pick(ov.TotalUSD, t.GrossAmountUSD.Add(t.BonusesUSD).Add(t.ExtrasUSD))

	fx := currentExchangeRate
	if inv.Frozen() {
		fx = inv.ExchangeRateSnapshot.Rate
	}
	if ov.ExchangeRate != nil {
		fx = *ov.ExchangeRate
	}

	t.GrossAmountEGP = pick(ov.GrossAmountEGP, t.GrossAmountUSD.Mul(fx))
	t.BonusesEGP = pick(ov.BonusesEGP, t.BonusesUSD.Mul(fx))
	t.ExtrasEGP = pick(ov.ExtrasEGP, t.ExtrasUSD.Mul(fx))
	t.TotalEGP = pick(ov.TotalEGP, t.GrossAmountEGP.Add(t.BonusesEGP).Add(t.ExtrasEGP))

	t.TransferFeeEGP = pick(ov.TransferFeeEGP, transferFee(inv.TransferFeeSnapshot, t.TotalEGP))
	t.NetAmountEGP = pick(ov.NetAmountEGP, domain.NonNegative(t.TotalEGP.Sub(t.TransferFeeEGP)))
}

func transferFee(snapshot models.TransferFeeSnapshot, totalEGP decimal.Decimal) decimal.Decimal {
	switch snapshot.Model {
	case domain.FeeModelFlat:
		return snapshot.Value
	case domain.FeeModelPercentage:
		return totalEGP.Mul(snapshot.Value).Div(decimal.NewFromInt(100))
	default:
		return decimal.Zero
	}
}

func pick(override *decimal.Decimal, computed decimal.Decimal) decimal.Decimal {
	if override != nil {
		return domain.RoundMoney(*override)
	}
	return domain.RoundMoney(computed)
}

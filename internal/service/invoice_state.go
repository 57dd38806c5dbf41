package service

import (
	"fmt"

	"github.com/tutorlane/payroll-engine/internal/domain"
	"github.com/tutorlane/payroll-engine/internal/models"
)

var invoiceTransitions = map[string]map[string]struct{}{
	domain.InvoiceStatusDraft: {
		domain.InvoiceStatusPublished: {},
		domain.InvoiceStatusArchived:  {},
	},
	domain.InvoiceStatusPublished: {
		domain.InvoiceStatusDraft:    {},
		domain.InvoiceStatusPaid:     {},
		domain.InvoiceStatusArchived: {},
	},
	domain.InvoiceStatusPaid: {
		domain.InvoiceStatusArchived: {},
	},
	domain.InvoiceStatusArchived: {},
}

func canTransition(current, next string) bool {
	nextStates, ok := invoiceTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

func requireTransition(inv *models.TeacherInvoice, next string) error {
	if !canTransition(inv.Status, next) {
		return fmt.Errorf("invoice %s cannot move from %s to %s: %w",
			inv.ID, inv.Status, next, domain.ErrInvalidStateTransition)
	}
	return nil
}

// requireMutable guards ledger edits: bonuses, extras and overrides may
// change only while the invoice is draft or published.
func requireMutable(inv *models.TeacherInvoice) error {
	if inv.Status == domain.InvoiceStatusDraft || inv.Status == domain.InvoiceStatusPublished {
		return nil
	}
	return fmt.Errorf("invoice %s is %s and no longer accepts ledger changes: %w",
		inv.ID, inv.Status, domain.ErrInvalidStateTransition)
}

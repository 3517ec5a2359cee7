// Package ledger enforces the structural invariants of a receipt:
// per-line price arithmetic, the item-sum linkage to the subtotal, and
// the balance equation that gates finalization. Handlers convert the
// collected field errors straight into 400 responses, so messages are
// written for the person editing the receipt.
package ledger

import (
	"fmt"
	"strings"

	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/money"
)

// PriceTolerance is the slack allowed between quantity * unit_price
// and total_price on a single line. One cent absorbs rounding noise
// from extraction and reconciliation nudges.
const PriceTolerance = money.Cents(1)

// FieldError describes a single invariant violation, addressed to the
// field the editor must change.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors collects invariant violations from a validation pass. A nil
// or empty slice means the receipt passed.
type Errors []FieldError

func (e Errors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fmt.Sprintf("%s: %s", fe.Field, fe.Message)
	}
	return strings.Join(msgs, "; ")
}

// ValidateItems checks the per-line invariants: positive quantity, a
// non-blank name, and total_price within one cent of
// quantity * unit_price.
func ValidateItems(items []models.LineItem) Errors {
	var errs Errors
	for i, item := range items {
		field := func(name string) string {
			return fmt.Sprintf("items[%d].%s", i, name)
		}
		if strings.TrimSpace(item.Name) == "" {
			errs = append(errs, FieldError{Field: field("name"), Message: "is required"})
		}
		if item.Quantity < 1 {
			errs = append(errs, FieldError{Field: field("quantity"), Message: "must be a positive integer"})
		}
		expected := item.UnitPrice * money.Cents(item.Quantity)
		if item.Quantity >= 1 && money.Abs(expected-item.TotalPrice) > PriceTolerance {
			errs = append(errs, FieldError{
				Field:   field("total_price"),
				Message: fmt.Sprintf("must equal quantity * unit_price (%s) within one cent", expected),
			})
		}
	}
	return errs
}

// ValidateReceipt runs the item checks and the subtotal linkage: the
// stated subtotal must equal the sum of line totals exactly.
func ValidateReceipt(r *models.Receipt) Errors {
	errs := ValidateItems(r.Items)
	if len(r.Items) == 0 {
		errs = append(errs, FieldError{Field: "items", Message: "at least one item is required"})
	}
	if sum := r.ItemsTotal(); len(r.Items) > 0 && sum != r.Subtotal {
		errs = append(errs, FieldError{
			Field:   "subtotal",
			Message: fmt.Sprintf("must equal the sum of item totals (%s)", sum),
		})
	}
	return errs
}

// Balanced reports whether subtotal + tax + tip equals the stated
// total exactly. Only balanced receipts may open for claims.
func Balanced(r *models.Receipt) bool {
	return r.Subtotal+r.Tax+r.Tip == r.Total
}

// BalanceGap returns total - (subtotal + tax + tip): the amount the
// receipt is off by, zero when balanced. Positive means the stated
// total exceeds the parts.
func BalanceGap(r *models.Receipt) money.Cents {
	return r.Total - (r.Subtotal + r.Tax + r.Tip)
}

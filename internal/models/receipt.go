package models

import "github.com/mmynk/tabsplit/internal/money"

// ReceiptState is the lifecycle stage of a receipt.
type ReceiptState string

const (
	// StateDraft is a freshly ingested receipt whose numbers did not
	// reconcile automatically. It needs uploader edits before claims
	// can open.
	StateDraft ReceiptState = "draft"

	// StateEditable is a structurally valid receipt the uploader is
	// still reviewing. Items and totals may change freely.
	StateEditable ReceiptState = "editable"

	// StateClaimsOpen is a finalized receipt. Items and totals are
	// frozen and participants may claim line items.
	StateClaimsOpen ReceiptState = "claims_open"
)

// Receipt represents an uploaded restaurant receipt with its line
// items and stated totals.
type Receipt struct {
	// ID is the unique identifier for the receipt (UUID format).
	// It doubles as the URL slug participants share.
	ID string

	// RestaurantName is the merchant name from extraction, editable
	// by the uploader. May be empty when extraction missed it.
	RestaurantName string

	// State is the lifecycle stage: draft, editable, or claims_open.
	State ReceiptState

	// Items are the priced lines on the receipt, in display order.
	Items []LineItem

	// Subtotal is the sum of all line item totals.
	Subtotal money.Cents

	// Tax is the stated tax amount. May be negative when a discount
	// was folded in during reconciliation.
	Tax money.Cents

	// Tip is the stated or derived tip amount. May be negative when
	// the receipt carries a discount.
	Tip money.Cents

	// Total is the amount actually charged. The balance invariant is
	// Subtotal + Tax + Tip == Total.
	Total money.Cents

	// Balanced reports whether the balance invariant currently
	// holds. Finalizing requires Balanced.
	Balanced bool

	// EditorKeyHash is the bcrypt hash of the uploader's edit key.
	// The plaintext key is returned exactly once at ingest and never
	// stored.
	EditorKeyHash string

	// Version increments on every mutation. Uploader edits carry the
	// version they read so conflicting edits are rejected.
	Version int64

	// CreatedAt is the Unix timestamp when the receipt was ingested.
	CreatedAt int64

	// UpdatedAt is the Unix timestamp of the last mutation.
	UpdatedAt int64
}

// LineItem represents a single priced line on a receipt.
type LineItem struct {
	// ID is the unique identifier for the item (UUID format).
	ID string

	// ReceiptID is the receipt this item belongs to.
	ReceiptID string

	// Position is the zero-based display order on the receipt.
	Position int

	// Name is the item description (e.g. "Pad Thai").
	Name string

	// Quantity is the number of units on this line. Always positive;
	// claims are made in whole units of this quantity.
	Quantity int

	// UnitPrice is the price per unit.
	UnitPrice money.Cents

	// TotalPrice is the line total. Within a cent of
	// UnitPrice * Quantity; the cent of slack absorbs reconciliation
	// nudges.
	TotalPrice money.Cents
}

// ItemByID returns the line item with the given ID, or nil.
func (r *Receipt) ItemByID(id string) *LineItem {
	for i := range r.Items {
		if r.Items[i].ID == id {
			return &r.Items[i]
		}
	}
	return nil
}

// ItemsTotal sums the line item totals.
func (r *Receipt) ItemsTotal() money.Cents {
	var sum money.Cents
	for i := range r.Items {
		sum += r.Items[i].TotalPrice
	}
	return sum
}

// ClaimsOpen reports whether the receipt accepts claims.
func (r *Receipt) ClaimsOpen() bool {
	return r.State == StateClaimsOpen
}

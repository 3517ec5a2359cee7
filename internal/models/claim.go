package models

// Claim represents one participant's claim on units of a line item.
// Quantities are absolute: a claim of 2 means the participant holds
// two units, not two more.
type Claim struct {
	// LineItemID is the item being claimed.
	LineItemID string

	// ClaimerName is the participant holding the claim.
	ClaimerName string

	// Quantity is the number of units held. Always positive; a
	// zero-quantity submission deletes the claim row instead.
	Quantity int
}

// Participant represents a person who has joined a receipt's claim
// session.
type Participant struct {
	// ReceiptID is the receipt this participant belongs to.
	ReceiptID string

	// Name is the display name, unique within the receipt.
	Name string

	// Finalized reports whether the participant has committed their
	// claims. Finalized participants cannot submit again.
	Finalized bool

	// FinalizedAt is the Unix timestamp of the commit, zero while
	// the participant is still selecting.
	FinalizedAt int64

	// CreatedAt is the Unix timestamp when the participant joined.
	CreatedAt int64
}

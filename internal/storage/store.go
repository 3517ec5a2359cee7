// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/mmynk/tabsplit/internal/models"
)

// ErrNotFound is returned when a receipt, item, or participant does
// not exist. Backends wrap it with context.
var ErrNotFound = errors.New("not found")

// ErrStale is returned when an optimistic update carries a version
// that no longer matches the stored receipt.
var ErrStale = errors.New("receipt was modified concurrently")

// ErrContention is returned when the backend could not take the locks
// a claim transaction needs. Callers may retry.
var ErrContention = errors.New("storage contention")

// IsContention reports whether err is a retryable locking failure.
func IsContention(err error) bool {
	return errors.Is(err, ErrContention)
}

// Store defines the interface for receipt storage operations.
// This abstraction allows swapping storage backends (SQLite,
// PostgreSQL, etc.) without changing the service layer.
type Store interface {
	// CreateReceipt persists a new receipt with its items. Missing
	// receipt and item IDs are populated by the store.
	CreateReceipt(ctx context.Context, receipt *models.Receipt) error

	// GetReceipt retrieves a receipt and its items by ID.
	// Returns ErrNotFound if the receipt does not exist.
	GetReceipt(ctx context.Context, receiptID string) (*models.Receipt, error)

	// UpdateReceipt replaces the receipt header and items. The
	// receipt's Version must match the stored row; ErrStale is
	// returned otherwise and the stored Version is bumped on
	// success. Claims on replaced items are removed.
	UpdateReceipt(ctx context.Context, receipt *models.Receipt) error

	// SetReceiptState transitions the receipt lifecycle state.
	SetReceiptState(ctx context.Context, receiptID string, state models.ReceiptState) error

	// AddParticipant records that a person joined the receipt's
	// claim session. Adding an existing name is a no-op.
	AddParticipant(ctx context.Context, p *models.Participant) error

	// ListParticipants returns everyone who joined the receipt,
	// ordered by join time.
	ListParticipants(ctx context.Context, receiptID string) ([]models.Participant, error)

	// ResetFinalization reopens claims for every participant on the
	// receipt. Used when a correction changes totals that finalized
	// participants already committed to.
	ResetFinalization(ctx context.Context, receiptID string) error

	// ListClaims returns all claims on the receipt's items.
	ListClaims(ctx context.Context, receiptID string) ([]models.Claim, error)

	// ClaimTx runs fn inside a transaction that holds the receipt's
	// claim rows exclusively. Returning an error from fn rolls the
	// transaction back. ErrContention is returned when the lock
	// cannot be taken promptly.
	ClaimTx(ctx context.Context, receiptID string, fn func(tx ClaimTx) error) error

	// Close releases any resources held by the store.
	Close() error
}

// ClaimTx is the view of a receipt inside a claim transaction. All
// reads observe the locked state; all writes commit atomically with
// the transaction.
type ClaimTx interface {
	// Receipt returns the locked receipt with its items.
	Receipt(ctx context.Context) (*models.Receipt, error)

	// Participant returns the named participant, or nil if they
	// have not joined.
	Participant(ctx context.Context, name string) (*models.Participant, error)

	// ClaimedByOthers returns units claimed per item by everyone
	// except the named participant.
	ClaimedByOthers(ctx context.Context, name string) (map[string]int, error)

	// ReplaceClaims atomically replaces the participant's entire
	// claim set. Desired maps item ID to absolute quantity; zero
	// quantities delete and are not stored.
	ReplaceClaims(ctx context.Context, name string, desired map[string]int) error

	// FinalizeParticipant marks the participant's claims as
	// committed, creating the participant row if needed.
	FinalizeParticipant(ctx context.Context, name string, at int64) error
}

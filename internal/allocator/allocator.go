// Package allocator serializes claim submissions against a receipt.
//
// Claims race: two people at the same table tap "claim" on the last
// unit of an item within milliseconds of each other. The allocator
// runs every submission inside an exclusive storage transaction, so
// exactly one of them wins and the loser gets back a full picture of
// what is still available.
//
// The protocol is absolute: a submission carries the participant's
// entire desired claim set, including zeros for items they are giving
// up. Replaying the same submission is therefore idempotent, and a
// new submission wholly replaces the old one rather than adding to it.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/storage"
)

const (
	defaultMaxRetries = 3
	defaultBackoff    = 25 * time.Millisecond
)

// Allocator validates and commits claim submissions.
type Allocator struct {
	store      storage.Store
	logger     *slog.Logger
	maxRetries int
	backoff    time.Duration
	now        func() time.Time
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithMaxRetries sets how many times a contended transaction is
// retried before the submission fails.
func WithMaxRetries(n int) Option {
	return func(a *Allocator) { a.maxRetries = n }
}

// WithBackoff sets the base delay between contention retries.
func WithBackoff(d time.Duration) Option {
	return func(a *Allocator) { a.backoff = d }
}

// New creates an Allocator on top of the given store.
func New(store storage.Store, logger *slog.Logger, opts ...Option) *Allocator {
	a := &Allocator{
		store:      store,
		logger:     logger,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Result reports a committed submission.
type Result struct {
	// ClaimsCount is the number of items the participant now holds
	// claims on.
	ClaimsCount int

	// Finalized is always true on success: committing a submission
	// finalizes the participant in the same transaction.
	Finalized bool
}

// Submit atomically replaces the participant's claims with the
// desired set and finalizes them.
//
// Inside the transaction it checks, in order: the receipt exists and
// is open for claims, the participant has not already finalized,
// every referenced item exists, and every desired quantity fits the
// availability left by other participants' claims. Any availability
// failure rejects the whole submission; partial claims are never
// committed.
//
// Contended transactions are retried with backoff up to the
// configured limit; protocol rejections are returned immediately as
// *ClaimError.
func (a *Allocator) Submit(ctx context.Context, receiptID, participant string, desired map[string]int) (*Result, error) {
	if participant == "" {
		return nil, NewValidationError("participant name is required")
	}
	for itemID, qty := range desired {
		if qty < 0 {
			return nil, NewValidationError("quantity for item %s must not be negative", itemID)
		}
	}

	var result *Result
	var err error
	for attempt := 0; ; attempt++ {
		err = a.store.ClaimTx(ctx, receiptID, func(tx storage.ClaimTx) error {
			r, txErr := a.apply(ctx, tx, participant, desired)
			if txErr != nil {
				return txErr
			}
			result = r
			return nil
		})
		if err == nil || !storage.IsContention(err) || attempt >= a.maxRetries {
			break
		}
		a.logger.Warn("claim transaction contended, retrying",
			"receipt_id", receiptID,
			"participant", participant,
			"attempt", attempt+1,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.backoff * time.Duration(attempt+1)):
		}
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewNotFoundError("receipt %s not found", receiptID)
		}
		if storage.IsContention(err) {
			return nil, fmt.Errorf("claim transaction still contended after %d retries: %w", a.maxRetries, err)
		}
		return nil, err
	}
	return result, nil
}

// apply runs the protocol checks and writes inside the transaction.
func (a *Allocator) apply(ctx context.Context, tx storage.ClaimTx, participant string, desired map[string]int) (*Result, error) {
	receipt, err := tx.Receipt(ctx)
	if err != nil {
		return nil, err
	}
	if !receipt.ClaimsOpen() {
		return nil, NewPreconditionError("receipt is not open for claims (state: %s)", receipt.State)
	}
	if !receipt.Balanced {
		return nil, NewPreconditionError("receipt is not balanced")
	}

	p, err := tx.Participant(ctx, participant)
	if err != nil {
		return nil, err
	}
	if p != nil && p.Finalized {
		return nil, NewConflictError(participant)
	}

	items := make(map[string]*models.LineItem, len(receipt.Items))
	for i := range receipt.Items {
		items[receipt.Items[i].ID] = &receipt.Items[i]
	}
	for itemID := range desired {
		if _, ok := items[itemID]; !ok {
			return nil, NewNotFoundError("line item %s does not exist on this receipt", itemID)
		}
	}

	others, err := tx.ClaimedByOthers(ctx, participant)
	if err != nil {
		return nil, err
	}

	var conflicts []ItemAvailability
	for itemID, want := range desired {
		if want == 0 {
			continue
		}
		item := items[itemID]
		available := item.Quantity - others[itemID]
		if available < 0 {
			available = 0
		}
		if want > available {
			conflicts = append(conflicts, ItemAvailability{
				ItemID:    itemID,
				Name:      item.Name,
				Requested: want,
				Available: available,
			})
		}
	}
	if len(conflicts) > 0 {
		sort.Slice(conflicts, func(i, j int) bool {
			return items[conflicts[i].ItemID].Position < items[conflicts[j].ItemID].Position
		})
		return nil, NewAvailabilityError(conflicts)
	}

	if err := tx.ReplaceClaims(ctx, participant, desired); err != nil {
		return nil, err
	}
	if err := tx.FinalizeParticipant(ctx, participant, a.now().Unix()); err != nil {
		return nil, err
	}

	count := 0
	for _, qty := range desired {
		if qty > 0 {
			count++
		}
	}
	return &Result{ClaimsCount: count, Finalized: true}, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/storage"
)

// AddParticipant records that a person joined the receipt's claim
// session. Re-joining with the same name is a no-op.
func (s *PostgresStore) AddParticipant(ctx context.Context, p *models.Participant) error {
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().Unix()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO participants (receipt_id, name, finalized, finalized_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (receipt_id, name) DO NOTHING`,
		p.ReceiptID, p.Name, p.Finalized, p.FinalizedAt, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert participant: %w", wrapContention(err))
	}
	return nil
}

// ListParticipants returns everyone who joined the receipt, ordered
// by join time.
func (s *PostgresStore) ListParticipants(ctx context.Context, receiptID string) ([]models.Participant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT receipt_id, name, finalized, finalized_at, created_at
		 FROM participants WHERE receipt_id = $1 ORDER BY created_at, name`,
		receiptID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ReceiptID, &p.Name, &p.Finalized, &p.FinalizedAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return participants, nil
}

// ResetFinalization reopens claims for every participant on the
// receipt.
func (s *PostgresStore) ResetFinalization(ctx context.Context, receiptID string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE participants SET finalized = FALSE, finalized_at = 0 WHERE receipt_id = $1",
		receiptID,
	)
	if err != nil {
		return fmt.Errorf("failed to reset finalization: %w", wrapContention(err))
	}
	return nil
}

// ListClaims returns all claims on the receipt's items, in item
// position order.
func (s *PostgresStore) ListClaims(ctx context.Context, receiptID string) ([]models.Claim, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.line_item_id, c.claimer_name, c.quantity
		 FROM claims c
		 JOIN line_items li ON li.id = c.line_item_id
		 WHERE li.receipt_id = $1
		 ORDER BY li.position, c.claimer_name`,
		receiptID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get claims: %w", err)
	}
	defer rows.Close()

	var claims []models.Claim
	for rows.Next() {
		var c models.Claim
		if err := rows.Scan(&c.LineItemID, &c.ClaimerName, &c.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claims: %w", err)
	}
	return claims, nil
}

// ClaimTx runs fn holding a FOR UPDATE lock on the receipt row.
// Competing claim submissions for the same receipt queue on the lock;
// submissions for different receipts proceed in parallel.
func (s *PostgresStore) ClaimTx(ctx context.Context, receiptID string, fn func(tx storage.ClaimTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin claim transaction: %w", wrapContention(err))
	}
	defer tx.Rollback(ctx)

	var locked string
	err = tx.QueryRow(ctx, "SELECT id FROM receipts WHERE id = $1 FOR UPDATE", receiptID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("receipt %s: %w", receiptID, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock receipt: %w", wrapContention(err))
	}

	if err := fn(&claimTx{tx: tx, receiptID: receiptID}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit claim transaction: %w", wrapContention(err))
	}
	return nil
}

// Ensure claimTx implements storage.ClaimTx
var _ storage.ClaimTx = (*claimTx)(nil)

// claimTx is the transactional view handed to the allocator.
type claimTx struct {
	tx        pgx.Tx
	receiptID string
}

// Receipt returns the locked receipt with its items.
func (t *claimTx) Receipt(ctx context.Context) (*models.Receipt, error) {
	return getReceipt(ctx, t.tx, t.receiptID, true)
}

// Participant returns the named participant, or nil if they have not
// joined.
func (t *claimTx) Participant(ctx context.Context, name string) (*models.Participant, error) {
	p := &models.Participant{}
	err := t.tx.QueryRow(ctx,
		`SELECT receipt_id, name, finalized, finalized_at, created_at
		 FROM participants WHERE receipt_id = $1 AND name = $2`,
		t.receiptID, name,
	).Scan(&p.ReceiptID, &p.Name, &p.Finalized, &p.FinalizedAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

// ClaimedByOthers returns units claimed per item by everyone except
// the named participant.
func (t *claimTx) ClaimedByOthers(ctx context.Context, name string) (map[string]int, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT c.line_item_id, SUM(c.quantity)::INT
		 FROM claims c
		 JOIN line_items li ON li.id = c.line_item_id
		 WHERE li.receipt_id = $1 AND c.claimer_name != $2
		 GROUP BY c.line_item_id`,
		t.receiptID, name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get claimed quantities: %w", err)
	}
	defer rows.Close()

	claimed := make(map[string]int)
	for rows.Next() {
		var itemID string
		var qty int
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, fmt.Errorf("failed to scan claimed quantity: %w", err)
		}
		claimed[itemID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claimed quantities: %w", err)
	}
	return claimed, nil
}

// ReplaceClaims atomically replaces the participant's entire claim
// set on this receipt. Zero quantities delete.
func (t *claimTx) ReplaceClaims(ctx context.Context, name string, desired map[string]int) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM claims
		 WHERE claimer_name = $1
		 AND line_item_id IN (SELECT id FROM line_items WHERE receipt_id = $2)`,
		name, t.receiptID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear claims: %w", err)
	}

	itemIDs := make([]string, 0, len(desired))
	for itemID := range desired {
		itemIDs = append(itemIDs, itemID)
	}
	sort.Strings(itemIDs)
	for _, itemID := range itemIDs {
		qty := desired[itemID]
		if qty == 0 {
			continue
		}
		_, err := t.tx.Exec(ctx,
			"INSERT INTO claims (line_item_id, claimer_name, quantity) VALUES ($1, $2, $3)",
			itemID, name, qty,
		)
		if err != nil {
			return fmt.Errorf("failed to insert claim: %w", err)
		}
	}
	return nil
}

// FinalizeParticipant marks the participant's claims as committed,
// creating the participant row if they never formally joined.
func (t *claimTx) FinalizeParticipant(ctx context.Context, name string, at int64) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO participants (receipt_id, name, finalized, finalized_at, created_at)
		 VALUES ($1, $2, TRUE, $3, $4)
		 ON CONFLICT (receipt_id, name) DO UPDATE SET finalized = TRUE, finalized_at = EXCLUDED.finalized_at`,
		t.receiptID, name, at, at,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize participant: %w", err)
	}
	return nil
}

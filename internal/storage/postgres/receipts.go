package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/storage"
)

// CreateReceipt persists a new receipt with its items.
func (s *PostgresStore) CreateReceipt(ctx context.Context, receipt *models.Receipt) error {
	if receipt.ID == "" {
		receipt.ID = uuid.New().String()
	}
	now := time.Now().Unix()
	if receipt.CreatedAt == 0 {
		receipt.CreatedAt = now
	}
	receipt.UpdatedAt = now
	if receipt.Version == 0 {
		receipt.Version = 1
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", wrapContention(err))
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO receipts (id, restaurant_name, state, subtotal, tax, tip, total, balanced, editor_key_hash, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		receipt.ID, receipt.RestaurantName, string(receipt.State),
		int64(receipt.Subtotal), int64(receipt.Tax), int64(receipt.Tip), int64(receipt.Total),
		receipt.Balanced, receipt.EditorKeyHash, receipt.Version, receipt.CreatedAt, receipt.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}

	if err := insertItems(ctx, tx, receipt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", wrapContention(err))
	}
	return nil
}

// insertItems writes the receipt's line items inside tx, filling in
// missing IDs and positions.
func insertItems(ctx context.Context, tx pgx.Tx, receipt *models.Receipt) error {
	for i := range receipt.Items {
		item := &receipt.Items[i]
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.ReceiptID = receipt.ID
		item.Position = i

		_, err := tx.Exec(ctx,
			`INSERT INTO line_items (id, receipt_id, position, name, quantity, unit_price, total_price)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, item.ReceiptID, item.Position, item.Name, item.Quantity,
			int64(item.UnitPrice), int64(item.TotalPrice),
		)
		if err != nil {
			return fmt.Errorf("failed to insert line item: %w", err)
		}
	}
	return nil
}

// GetReceipt retrieves a receipt by ID, including all line items.
func (s *PostgresStore) GetReceipt(ctx context.Context, receiptID string) (*models.Receipt, error) {
	return getReceipt(ctx, s.pool, receiptID, false)
}

// getReceipt loads a receipt header and items. With lock set it takes
// FOR UPDATE on the receipt row, which is what serializes claim
// transactions per receipt.
func getReceipt(ctx context.Context, q querier, receiptID string, lock bool) (*models.Receipt, error) {
	query := `SELECT id, restaurant_name, state, subtotal, tax, tip, total, balanced, editor_key_hash, version, created_at, updated_at
		 FROM receipts WHERE id = $1`
	if lock {
		query += " FOR UPDATE"
	}

	receipt := &models.Receipt{}
	var state string
	err := q.QueryRow(ctx, query, receiptID).Scan(
		&receipt.ID, &receipt.RestaurantName, &state,
		&receipt.Subtotal, &receipt.Tax, &receipt.Tip, &receipt.Total,
		&receipt.Balanced, &receipt.EditorKeyHash, &receipt.Version,
		&receipt.CreatedAt, &receipt.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("receipt %s: %w", receiptID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", wrapContention(err))
	}
	receipt.State = models.ReceiptState(state)

	rows, err := q.Query(ctx,
		`SELECT id, receipt_id, position, name, quantity, unit_price, total_price
		 FROM line_items WHERE receipt_id = $1 ORDER BY position`,
		receiptID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.LineItem
		if err := rows.Scan(&item.ID, &item.ReceiptID, &item.Position,
			&item.Name, &item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		receipt.Items = append(receipt.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate line items: %w", err)
	}

	return receipt, nil
}

// UpdateReceipt replaces the receipt header and line items with
// optimistic version checking.
func (s *PostgresStore) UpdateReceipt(ctx context.Context, receipt *models.Receipt) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", wrapContention(err))
	}
	defer tx.Rollback(ctx)

	receipt.UpdatedAt = time.Now().Unix()
	tag, err := tx.Exec(ctx,
		`UPDATE receipts
		 SET restaurant_name = $1, state = $2, subtotal = $3, tax = $4, tip = $5, total = $6, balanced = $7, version = version + 1, updated_at = $8
		 WHERE id = $9 AND version = $10`,
		receipt.RestaurantName, string(receipt.State),
		int64(receipt.Subtotal), int64(receipt.Tax), int64(receipt.Tip), int64(receipt.Total),
		receipt.Balanced, receipt.UpdatedAt, receipt.ID, receipt.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update receipt: %w", wrapContention(err))
	}
	if tag.RowsAffected() == 0 {
		var exists int
		err := tx.QueryRow(ctx, "SELECT 1 FROM receipts WHERE id = $1", receipt.ID).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("receipt %s: %w", receipt.ID, storage.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to check receipt: %w", err)
		}
		return fmt.Errorf("receipt %s: %w", receipt.ID, storage.ErrStale)
	}
	receipt.Version++

	if _, err := tx.Exec(ctx, "DELETE FROM line_items WHERE receipt_id = $1", receipt.ID); err != nil {
		return fmt.Errorf("failed to delete line items: %w", err)
	}
	if err := insertItems(ctx, tx, receipt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", wrapContention(err))
	}
	return nil
}

// SetReceiptState transitions the receipt lifecycle state.
func (s *PostgresStore) SetReceiptState(ctx context.Context, receiptID string, state models.ReceiptState) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE receipts SET state = $1, version = version + 1, updated_at = $2 WHERE id = $3",
		string(state), time.Now().Unix(), receiptID,
	)
	if err != nil {
		return fmt.Errorf("failed to set receipt state: %w", wrapContention(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("receipt %s: %w", receiptID, storage.ErrNotFound)
	}
	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/tabsplit/internal/models"
	"github.com/mmynk/tabsplit/internal/storage"
)

// CreateReceipt persists a new receipt with its items.
func (s *SQLiteStore) CreateReceipt(ctx context.Context, receipt *models.Receipt) error {
	// Generate IDs if not set
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", wrapBusy(err))
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO receipts (id, restaurant_name, state, subtotal, tax, tip, total, balanced, editor_key_hash, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", wrapBusy(err))
	}
	return nil
}

// insertItems writes the receipt's line items inside tx, filling in
// missing IDs and positions.
func insertItems(ctx context.Context, tx *sql.Tx, receipt *models.Receipt) error {
	for i := range receipt.Items {
		item := &receipt.Items[i]
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		item.ReceiptID = receipt.ID
		item.Position = i

		_, err := tx.ExecContext(ctx,
			`INSERT INTO line_items (id, receipt_id, position, name, quantity, unit_price, total_price)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
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
func (s *SQLiteStore) GetReceipt(ctx context.Context, receiptID string) (*models.Receipt, error) {
	return getReceipt(ctx, s.db, receiptID)
}

// queryer lets the same read helpers run on the pool or inside a
// transaction.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getReceipt(ctx context.Context, q queryer, receiptID string) (*models.Receipt, error) {
	receipt := &models.Receipt{}
	var state string
	err := q.QueryRowContext(ctx,
		`SELECT id, restaurant_name, state, subtotal, tax, tip, total, balanced, editor_key_hash, version, created_at, updated_at
		 FROM receipts WHERE id = ?`,
		receiptID,
	).Scan(&receipt.ID, &receipt.RestaurantName, &state,
		&receipt.Subtotal, &receipt.Tax, &receipt.Tip, &receipt.Total,
		&receipt.Balanced, &receipt.EditorKeyHash, &receipt.Version,
		&receipt.CreatedAt, &receipt.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("receipt %s: %w", receiptID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	receipt.State = models.ReceiptState(state)

	rows, err := q.QueryContext(ctx,
		`SELECT id, receipt_id, position, name, quantity, unit_price, total_price
		 FROM line_items WHERE receipt_id = ? ORDER BY position`,
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

// UpdateReceipt replaces the receipt header and line items. The
// receipt's Version must match the stored row; replaced items drop
// their claims via the foreign key cascade.
func (s *SQLiteStore) UpdateReceipt(ctx context.Context, receipt *models.Receipt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", wrapBusy(err))
	}
	defer tx.Rollback()

	receipt.UpdatedAt = time.Now().Unix()
	res, err := tx.ExecContext(ctx,
		`UPDATE receipts
		 SET restaurant_name = ?, state = ?, subtotal = ?, tax = ?, tip = ?, total = ?, balanced = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		receipt.RestaurantName, string(receipt.State),
		int64(receipt.Subtotal), int64(receipt.Tax), int64(receipt.Tip), int64(receipt.Total),
		receipt.Balanced, receipt.UpdatedAt, receipt.ID, receipt.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update receipt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count updated rows: %w", err)
	}
	if affected == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT 1 FROM receipts WHERE id = ?", receipt.ID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("receipt %s: %w", receipt.ID, storage.ErrNotFound)
			}
			return fmt.Errorf("failed to check receipt: %w", err)
		}
		return fmt.Errorf("receipt %s: %w", receipt.ID, storage.ErrStale)
	}
	receipt.Version++

	if _, err := tx.ExecContext(ctx, "DELETE FROM line_items WHERE receipt_id = ?", receipt.ID); err != nil {
		return fmt.Errorf("failed to delete line items: %w", err)
	}
	if err := insertItems(ctx, tx, receipt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", wrapBusy(err))
	}
	return nil
}

// SetReceiptState transitions the receipt lifecycle state.
func (s *SQLiteStore) SetReceiptState(ctx context.Context, receiptID string, state models.ReceiptState) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE receipts SET state = ?, version = version + 1, updated_at = ? WHERE id = ?",
		string(state), time.Now().Unix(), receiptID,
	)
	if err != nil {
		return fmt.Errorf("failed to set receipt state: %w", wrapBusy(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count updated rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("receipt %s: %w", receiptID, storage.ErrNotFound)
	}
	return nil
}

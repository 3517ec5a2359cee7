package postgres

import "context"

// schema mirrors the SQLite layout: TEXT UUIDs, BIGINT cents, Unix
// second timestamps. Kept in lockstep with internal/storage/sqlite.
const schema = `
CREATE TABLE IF NOT EXISTS receipts (
    id TEXT PRIMARY KEY,
    restaurant_name TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL,
    subtotal BIGINT NOT NULL,
    tax BIGINT NOT NULL,
    tip BIGINT NOT NULL,
    total BIGINT NOT NULL,
    balanced BOOLEAN NOT NULL DEFAULT FALSE,
    editor_key_hash TEXT NOT NULL DEFAULT '',
    version BIGINT NOT NULL DEFAULT 1,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS line_items (
    id TEXT PRIMARY KEY,
    receipt_id TEXT NOT NULL REFERENCES receipts(id) ON DELETE CASCADE,
    position INT NOT NULL,
    name TEXT NOT NULL,
    quantity INT NOT NULL,
    unit_price BIGINT NOT NULL,
    total_price BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS participants (
    receipt_id TEXT NOT NULL REFERENCES receipts(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    finalized BOOLEAN NOT NULL DEFAULT FALSE,
    finalized_at BIGINT NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL,
    PRIMARY KEY (receipt_id, name)
);

CREATE TABLE IF NOT EXISTS claims (
    line_item_id TEXT NOT NULL REFERENCES line_items(id) ON DELETE CASCADE,
    claimer_name TEXT NOT NULL,
    quantity INT NOT NULL,
    PRIMARY KEY (line_item_id, claimer_name)
);

CREATE INDEX IF NOT EXISTS idx_line_items_receipt_id ON line_items(receipt_id);
CREATE INDEX IF NOT EXISTS idx_participants_receipt_id ON participants(receipt_id);
CREATE INDEX IF NOT EXISTS idx_claims_line_item_id ON claims(line_item_id);
`

// migrate executes the schema setup.
func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

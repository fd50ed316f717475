package persist

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/esphive/esphive-core/internal/infrastructure/database"
)

// SQLiteStore implements Store on the embedded SQLite database.
//
// Values are stored as decimal strings, never as floats, so nothing is
// lost between coercion and storage.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a Store backed by the given database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// GetOrCreateRow upserts a row by name and returns its identifier.
// An existing row gets its display name and unit refreshed, so
// configuration renames propagate on restart.
func (s *SQLiteStore) GetOrCreateRow(ctx context.Context, name, displayName, unit string) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rows (name, display_name, unit)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			display_name = excluded.display_name,
			unit = excluded.unit`,
		name, displayName, unit,
	)
	if err != nil {
		return 0, fmt.Errorf("upserting row %q: %w", name, err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM rows WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("reading row id for %q: %w", name, err)
	}
	return id, nil
}

// AppendRecord appends one sample to a row's series.
func (s *SQLiteStore) AppendRecord(ctx context.Context, rowID int64, value decimal.Decimal, unixSeconds int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (row_id, value, unix_seconds)
		VALUES (?, ?, ?)`,
		rowID, value.String(), unixSeconds,
	)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

// AppendError appends one entry to the errors table.
func (s *SQLiteStore) AppendError(ctx context.Context, item ErrorItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO errors (timestamp, source, message, detail)
		VALUES (?, ?, ?, ?)`,
		item.Timestamp, item.Source, item.Message, item.Detail,
	)
	if err != nil {
		return fmt.Errorf("inserting error entry: %w", err)
	}
	return nil
}

// Checkpoint truncates the write-ahead log so it does not grow without
// bound between restarts.
func (s *SQLiteStore) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

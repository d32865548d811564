package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chatterbox-im/chatterbox/internal/dbx"
)

// Store is the durable slot storage behind the vault. Get returns
// (nil, nil) when the slot is absent.
type Store interface {
	Get(ctx context.Context, slot string) ([]byte, error)
	Set(ctx context.Context, slot string, value []byte) error
	Delete(ctx context.Context, slot string) error
}

// SQLiteStore keeps slots in a single key/value table.
type SQLiteStore struct {
	db dbx.DBTX
}

func NewSQLiteStore(db dbx.DBTX) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Get(ctx context.Context, slot string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM vault WHERE slot = ?`, slot).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get vault[%s]: %w", slot, err)
	}
	return value, nil
}

func (s *SQLiteStore) Set(ctx context.Context, slot string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vault (slot, value) VALUES (?, ?)
		ON CONFLICT(slot) DO UPDATE SET value = excluded.value
	`, slot, value)
	if err != nil {
		return fmt.Errorf("set vault[%s]: %w", slot, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, slot string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM vault WHERE slot = ?`, slot)
	if err != nil {
		return fmt.Errorf("delete vault[%s]: %w", slot, err)
	}
	return nil
}


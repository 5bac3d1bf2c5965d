package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetSyncState returns the Matrix sync value stored under key, or "" when
// none has been saved yet.
func (s *Store) GetSyncState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM matrix_sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get sync state %q: %w", key, err)
	}
	return value, nil
}

// SetSyncState upserts a Matrix sync value.
func (s *Store) SetSyncState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set sync state %q: %w", key, err)
	}
	return nil
}

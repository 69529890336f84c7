package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const flagSet = "1"

// GetOption returns a persisted option value, or "" when unset.
func (s *SQLiteStore) GetOption(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM options WHERE name = ?`, name).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get option: %w", err)
	}
	return value, nil
}

// SetOption persists an option value.
func (s *SQLiteStore) SetOption(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO options (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, name, value, s.timestamp())
	if err != nil {
		return fmt.Errorf("set option: %w", err)
	}
	return nil
}

// DeleteOption removes an option.
func (s *SQLiteStore) DeleteOption(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM options WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete option: %w", err)
	}
	return nil
}

// AcquireFlag sets a boolean option if and only if it is not already set.
// The check and the write are a single statement, so two processes sharing
// the database cannot both acquire the same flag.
func (s *SQLiteStore) AcquireFlag(ctx context.Context, name string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO options (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		WHERE options.value <> excluded.value
	`, name, flagSet, s.timestamp())
	if err != nil {
		return false, fmt.Errorf("acquire flag: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n == 1, nil
}

// ReleaseFlag clears a flag set by AcquireFlag.
func (s *SQLiteStore) ReleaseFlag(ctx context.Context, name string) error {
	return s.SetOption(ctx, name, "")
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/spinsync/internal/types"
	"github.com/oklog/ulid/v2"
)

// CreateAttachment records a new asset file owned by ownerID.
func (s *SQLiteStore) CreateAttachment(ctx context.Context, ownerID, path, sourceURL string) (string, error) {
	id := ulid.Make().String()
	now := s.timestamp()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, owner_id, path, source_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, ownerID, path, sourceURL, now, now)
	if err != nil {
		if isForeignKeyErr(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("insert attachment: %w", err)
	}
	return id, nil
}

// GetAttachment retrieves an attachment by id.
func (s *SQLiteStore) GetAttachment(ctx context.Context, id string) (*types.Attachment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, path, source_url, created_at, updated_at
		FROM attachments WHERE id = ?
	`, id)

	a, err := scanAttachment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan attachment: %w", err)
	}
	return a, nil
}

// UpdateAttachmentPath points an attachment at a new file.
func (s *SQLiteStore) UpdateAttachmentPath(ctx context.Context, id, path, sourceURL string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE attachments SET path = ?, source_url = ?, updated_at = ? WHERE id = ?`,
		path, sourceURL, s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("update attachment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AttachmentsFor returns every attachment owned by the given records.
func (s *SQLiteStore) AttachmentsFor(ctx context.Context, ownerIDs []string) ([]types.Attachment, error) {
	if len(ownerIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ownerIDs)), ",")
	args := make([]any, len(ownerIDs))
	for i, id := range ownerIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, path, source_url, created_at, updated_at
		FROM attachments WHERE owner_id IN (`+placeholders+`)
		ORDER BY id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	var out []types.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func scanAttachment(scanner interface{ Scan(...any) error }) (*types.Attachment, error) {
	var a types.Attachment
	var createdAt, updatedAt string
	if err := scanner.Scan(&a.ID, &a.OwnerID, &a.Path, &a.SourceURL, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		a.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		a.UpdatedAt = t
	}
	return &a, nil
}

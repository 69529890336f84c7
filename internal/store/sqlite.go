package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperengineering/spinsync/internal/types"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the SQLite-backed catalog store.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	// foreign_keys is per connection; a single connection keeps it in force
	// and serializes writers the way SQLite wants anyway.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable and the schema is in place.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('records','record_meta','options')`,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("query schema: %w", err)
	}
	if n != 3 {
		return fmt.Errorf("schema incomplete: %d of 3 tables present", n)
	}
	return nil
}

func (s *SQLiteStore) timestamp() string {
	return s.now().Format(time.RFC3339)
}

// CreateRecord inserts a new record and returns its id.
func (s *SQLiteStore) CreateRecord(ctx context.Context, f types.RecordFields) (string, error) {
	id := ulid.Make().String()
	now := s.timestamp()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (id, kind, parent_id, title, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, string(f.Kind), nullString(f.ParentID), f.Title, f.Body, statusOrDefault(f.Status), now, now)
	if err != nil {
		return "", fmt.Errorf("insert record: %w", err)
	}
	return id, nil
}

// UpdateRecord overwrites the mutable columns of an existing record.
// The kind of a record never changes.
func (s *SQLiteStore) UpdateRecord(ctx context.Context, id string, f types.RecordFields) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE records
		SET parent_id = ?, title = ?, body = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, nullString(f.ParentID), f.Title, f.Body, statusOrDefault(f.Status), s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRecord retrieves a record by id.
func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*types.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, parent_id, title, body, status, created_at, updated_at
		FROM records WHERE id = ?
	`, id)

	var rec types.Record
	var kind string
	var parentID sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&rec.ID, &kind, &parentID, &rec.Title, &rec.Body, &rec.Status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}

	rec.Kind = types.Kind(kind)
	rec.ParentID = parentID.String
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return &rec, nil
}

// DeleteRecords removes records by id. Metadata, term links, attachment rows
// and child records cascade.
func (s *SQLiteStore) DeleteRecords(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM records WHERE id = ?`)
	if err != nil {
		return 0, fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	var deleted int64
	for _, id := range ids {
		result, err := stmt.ExecContext(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("delete record %s: %w", id, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("get rows affected: %w", err)
		}
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return deleted, nil
}

// RecordIDs returns the ids of every record of the given kind, oldest first.
func (s *SQLiteStore) RecordIDs(ctx context.Context, kind types.Kind) ([]string, error) {
	return s.queryStrings(ctx, `SELECT id FROM records WHERE kind = ? ORDER BY id`, string(kind))
}

// ChildIDs returns the ids of the parent's children of the given kind.
func (s *SQLiteStore) ChildIDs(ctx context.Context, parentID string, kind types.Kind) ([]string, error) {
	return s.queryStrings(ctx, `SELECT id FROM records WHERE parent_id = ? AND kind = ? ORDER BY id`, parentID, string(kind))
}

// FindByMeta locates the record of key.Kind whose metadata key.MetaKey equals key.Value.
func (s *SQLiteStore) FindByMeta(ctx context.Context, key types.LookupKey) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id FROM records r
		JOIN record_meta m ON m.record_id = r.id
		WHERE r.kind = ? AND m.meta_key = ? AND m.value = ?
		ORDER BY r.id
		LIMIT 1
	`, string(key.Kind), key.MetaKey, key.Value).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("find by meta: %w", err)
	}
	return id, true, nil
}

// GetMeta returns a single metadata value, or "" when unset.
func (s *SQLiteStore) GetMeta(ctx context.Context, id, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM record_meta WHERE record_id = ? AND meta_key = ?`, id, key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get meta: %w", err)
	}
	return value, nil
}

// SetMeta writes a single metadata value.
func (s *SQLiteStore) SetMeta(ctx context.Context, id, key, value string) error {
	if key == "" {
		return ErrEmptyMetaKey
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO record_meta (record_id, meta_key, value) VALUES (?, ?, ?)
		ON CONFLICT(record_id, meta_key) DO UPDATE SET value = excluded.value
	`, id, key, value)
	if err != nil {
		if isForeignKeyErr(err) {
			return ErrNotFound
		}
		return fmt.Errorf("set meta: %w", err)
	}
	return nil
}

// SetMetadata writes every key of md in one transaction.
func (s *SQLiteStore) SetMetadata(ctx context.Context, id string, md types.Metadata) error {
	if len(md) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO record_meta (record_id, meta_key, value) VALUES (?, ?, ?)
		ON CONFLICT(record_id, meta_key) DO UPDATE SET value = excluded.value
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for k, v := range md {
		if k == "" {
			return ErrEmptyMetaKey
		}
		if _, err := stmt.ExecContext(ctx, id, k, v); err != nil {
			if isForeignKeyErr(err) {
				return ErrNotFound
			}
			return fmt.Errorf("set meta %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// AllMeta returns every metadata value of a record.
func (s *SQLiteStore) AllMeta(ctx context.Context, id string) (types.Metadata, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT meta_key, value FROM record_meta WHERE record_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	defer rows.Close()

	md := types.Metadata{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		md[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return md, nil
}

func (s *SQLiteStore) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return ids, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func statusOrDefault(status string) string {
	if status == "" {
		return types.StatusPublish
	}
	return status
}

func isForeignKeyErr(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

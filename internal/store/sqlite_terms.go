package store

import (
	"context"
	"fmt"

	"github.com/hyperengineering/spinsync/internal/types"
	"github.com/oklog/ulid/v2"
)

// SetRecordTerms replaces the record's terms in taxonomy with names,
// creating missing terms on demand.
func (s *SQLiteStore) SetRecordTerms(ctx context.Context, recordID, taxonomy string, names []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM record_terms
		WHERE record_id = ? AND term_id IN (SELECT id FROM terms WHERE taxonomy = ?)
	`, recordID, taxonomy)
	if err != nil {
		return fmt.Errorf("clear record terms: %w", err)
	}

	for _, name := range names {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO terms (id, taxonomy, name) VALUES (?, ?, ?) ON CONFLICT(taxonomy, name) DO NOTHING`,
			ulid.Make().String(), taxonomy, name,
		); err != nil {
			return fmt.Errorf("insert term %q: %w", name, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO record_terms (record_id, term_id)
			SELECT ?, id FROM terms WHERE taxonomy = ? AND name = ?
			ON CONFLICT DO NOTHING
		`, recordID, taxonomy, name); err != nil {
			if isForeignKeyErr(err) {
				return ErrNotFound
			}
			return fmt.Errorf("link term %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListTerms returns every term of a taxonomy ordered by name.
func (s *SQLiteStore) ListTerms(ctx context.Context, taxonomy string) ([]types.Term, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, taxonomy, name FROM terms WHERE taxonomy = ? ORDER BY name`, taxonomy)
	if err != nil {
		return nil, fmt.Errorf("query terms: %w", err)
	}
	defer rows.Close()

	terms := []types.Term{}
	for rows.Next() {
		var t types.Term
		if err := rows.Scan(&t.ID, &t.Taxonomy, &t.Name); err != nil {
			return nil, fmt.Errorf("scan term: %w", err)
		}
		terms = append(terms, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return terms, nil
}

// RecordTerms returns the names of the record's terms in taxonomy.
func (s *SQLiteStore) RecordTerms(ctx context.Context, recordID, taxonomy string) ([]string, error) {
	return s.queryStrings(ctx, `
		SELECT t.name FROM terms t
		JOIN record_terms rt ON rt.term_id = t.id
		WHERE rt.record_id = ? AND t.taxonomy = ?
		ORDER BY t.name
	`, recordID, taxonomy)
}

// DeleteTerm removes a term and its record links.
func (s *SQLiteStore) DeleteTerm(ctx context.Context, id, taxonomy string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM terms WHERE id = ? AND taxonomy = ?`, id, taxonomy)
	if err != nil {
		return fmt.Errorf("delete term: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return ErrWrongTaxonomy
	}
	return nil
}

// Package reconcile deletes local records and terms that a completed sync
// pass did not observe.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/spinsync/internal/types"
)

// Store is the record and taxonomy storage purged by a Purger.
type Store interface {
	RecordIDs(ctx context.Context, kind types.Kind) ([]string, error)
	DeleteRecords(ctx context.Context, ids []string) (int64, error)
	ListTerms(ctx context.Context, taxonomy string) ([]types.Term, error)
	DeleteTerm(ctx context.Context, id, taxonomy string) error
}

// FileRemover deletes the asset files owned by records.
type FileRemover interface {
	RemoveOwned(ctx context.Context, ownerIDs []string) (int, error)
}

// Purger removes stray records and terms.
type Purger struct {
	store Store
	files FileRemover
}

// New creates a Purger. files may be nil when no asset store is configured.
func New(st Store, files FileRemover) *Purger {
	return &Purger{store: st, files: files}
}

// PurgeStray deletes every record of kind whose id is not in seen and
// returns the deleted ids. Asset files owned by the stray records are
// removed first; a file failure is logged and does not keep the record.
func (p *Purger) PurgeStray(ctx context.Context, kind types.Kind, seen map[string]struct{}) ([]string, error) {
	all, err := p.store.RecordIDs(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", kind, err)
	}

	stray := make([]string, 0)
	for _, id := range all {
		if _, ok := seen[id]; !ok {
			stray = append(stray, id)
		}
	}
	if len(stray) == 0 {
		return stray, nil
	}

	if p.files != nil {
		if _, err := p.files.RemoveOwned(ctx, stray); err != nil {
			slog.Warn("stray asset removal failed",
				"component", "reconcile",
				"action", "remove_files",
				"kind", kind,
				"error", err,
			)
		}
	}

	deleted, err := p.store.DeleteRecords(ctx, stray)
	if err != nil {
		return nil, fmt.Errorf("delete stray %s records: %w", kind, err)
	}
	slog.Info("stray records purged",
		"component", "reconcile",
		"action", "purge_records",
		"kind", kind,
		"deleted", deleted,
	)
	return stray, nil
}

// PurgeStrayTerms deletes every term of taxonomy whose name is not in seen
// and returns the number deleted.
func (p *Purger) PurgeStrayTerms(ctx context.Context, taxonomy string, seen []string) (int, error) {
	keep := make(map[string]struct{}, len(seen))
	for _, n := range seen {
		keep[n] = struct{}{}
	}

	terms, err := p.store.ListTerms(ctx, taxonomy)
	if err != nil {
		return 0, fmt.Errorf("list %s terms: %w", taxonomy, err)
	}

	deleted := 0
	for _, t := range terms {
		if _, ok := keep[t.Name]; ok {
			continue
		}
		if err := p.store.DeleteTerm(ctx, t.ID, taxonomy); err != nil {
			return deleted, fmt.Errorf("delete term %q: %w", t.Name, err)
		}
		deleted++
	}
	if deleted > 0 {
		slog.Info("stray terms purged",
			"component", "reconcile",
			"action", "purge_terms",
			"taxonomy", taxonomy,
			"deleted", deleted,
		)
	}
	return deleted, nil
}

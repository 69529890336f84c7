package worker

import (
	"context"
	"log/slog"
	"time"
)

// SnapshotWriter refreshes prefetch snapshots from the live API.
// Implemented by prefetch.Writer.
type SnapshotWriter interface {
	WriteArtists(ctx context.Context) ([]int64, error)
	WriteOffers(ctx context.Context, artistIDs []int64) error
}

// PrefetchCoordinator keeps the prefetch snapshots fresh so prefetch passes
// read a recent catalog.
type PrefetchCoordinator struct {
	writer   SnapshotWriter
	interval time.Duration
}

// NewPrefetchCoordinator creates a coordinator that rewrites the snapshots
// every interval.
func NewPrefetchCoordinator(writer SnapshotWriter, interval time.Duration) *PrefetchCoordinator {
	return &PrefetchCoordinator{writer: writer, interval: interval}
}

// Run starts the coordinator loop. Snapshots are written immediately on
// start, then on every tick. It blocks until ctx is cancelled.
func (c *PrefetchCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "prefetch-coordinator",
		"action", "worker_started",
		"interval", c.interval.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "prefetch-coordinator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

// refresh writes the artist snapshot and one offer snapshot per artist.
// Returns true if both steps succeeded.
func (c *PrefetchCoordinator) refresh(ctx context.Context) bool {
	start := time.Now()

	ids, err := c.writer.WriteArtists(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false // Graceful shutdown
		}
		slog.Warn("artist snapshot failed",
			"component", "worker",
			"worker", "prefetch-coordinator",
			"action", "snapshot_failed",
			"scope", "artists",
			"error", err,
		)
		return false
	}

	if err := c.writer.WriteOffers(ctx, ids); err != nil {
		if ctx.Err() != nil {
			return false
		}
		slog.Warn("offer snapshots failed",
			"component", "worker",
			"worker", "prefetch-coordinator",
			"action", "snapshot_failed",
			"scope", "offers",
			"error", err,
		)
		return false
	}

	slog.Info("prefetch snapshots refreshed",
		"component", "worker",
		"worker", "prefetch-coordinator",
		"action", "cycle_complete",
		"artists", len(ids),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return true
}

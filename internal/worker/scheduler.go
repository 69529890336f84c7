package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hyperengineering/spinsync/internal/types"
)

// PassRunner runs gated sync passes. Implemented by coordinator.Coordinator.
type PassRunner interface {
	SyncArtists(ctx context.Context, prefetch bool) (types.PassResult, error)
	SyncOffers(ctx context.Context, prefetch, force bool) (types.PassResult, error)
	SyncProducts(ctx context.Context, force bool) (types.PassResult, error)
}

// Intervals sets how often each scope is synced. A zero interval disables
// the scope's ticker.
type Intervals struct {
	Artists  time.Duration
	Offers   time.Duration
	Products time.Duration
}

// Scheduler triggers sync passes on fixed intervals.
type Scheduler struct {
	runner    PassRunner
	intervals Intervals
	prefetch  bool
}

// NewScheduler creates a scheduler. prefetch selects snapshot sources for
// artist and offer passes.
func NewScheduler(runner PassRunner, intervals Intervals, prefetch bool) *Scheduler {
	return &Scheduler{runner: runner, intervals: intervals, prefetch: prefetch}
}

// Run starts the scheduler loop. It blocks until ctx is cancelled.
//
// A full artists, offers, products cycle runs immediately on start; after
// that every scope follows its own ticker. Passes run one at a time.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "scheduler",
		"action", "worker_started",
		"artists_interval", s.intervals.Artists.String(),
		"offers_interval", s.intervals.Offers.String(),
		"products_interval", s.intervals.Products.String(),
	)

	artists, stopArtists := tick(s.intervals.Artists)
	defer stopArtists()
	offers, stopOffers := tick(s.intervals.Offers)
	defer stopOffers()
	products, stopProducts := tick(s.intervals.Products)
	defer stopProducts()

	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "scheduler",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-artists:
			s.runScope(ctx, types.ScopeArtists)
		case <-offers:
			s.runScope(ctx, types.ScopeOffers)
		case <-products:
			s.runScope(ctx, types.ScopeProducts)
		}
	}
}

// runCycle runs every scope in dependency order.
func (s *Scheduler) runCycle(ctx context.Context) {
	for _, sc := range types.Scopes {
		if ctx.Err() != nil {
			return // Graceful shutdown
		}
		s.runScope(ctx, sc)
	}
}

func (s *Scheduler) runScope(ctx context.Context, scope types.Scope) {
	var (
		res types.PassResult
		err error
	)
	switch scope {
	case types.ScopeArtists:
		res, err = s.runner.SyncArtists(ctx, s.prefetch)
	case types.ScopeOffers:
		res, err = s.runner.SyncOffers(ctx, s.prefetch, false)
	case types.ScopeProducts:
		res, err = s.runner.SyncProducts(ctx, false)
	}

	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return // Graceful shutdown, don't log as error
		}
		slog.Warn("scheduled sync failed",
			"component", "worker",
			"worker", "scheduler",
			"action", "sync_failed",
			"scope", scope,
			"error", err,
		)
		return
	}

	slog.Debug("scheduled sync finished",
		"component", "worker",
		"worker", "scheduler",
		"action", "sync_finished",
		"scope", scope,
		"skipped", res.Skipped,
		"synced", res.Synced,
		"partial", res.Partial,
	)
}

// tick returns a ticker channel for d, or a nil channel that never fires
// when d is not positive.
func tick(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hyperengineering/spinsync/internal/syncer"
	"github.com/hyperengineering/spinsync/internal/types"
)

type passFunc func(ctx context.Context, pass *syncer.PassContext) error

// errNothingToReconcile ends a pass whose source listing is empty. Such a pass
// skips the purge and is not stamped.
var errNothingToReconcile = errors.New("source listing empty")

// scopeKind is the record kind each scope owns and purges.
var scopeKind = map[types.Scope]types.Kind{
	types.ScopeArtists:  types.KindArtist,
	types.ScopeOffers:   types.KindOffer,
	types.ScopeProducts: types.KindProduct,
}

// run gates, locks and executes one pass, then purges, stamps and notifies
// when the pass completed.
func (c *Coordinator) run(ctx context.Context, scope types.Scope, force bool, body passFunc) (types.PassResult, error) {
	result := types.PassResult{Scope: scope}

	if err := c.gate(ctx, scope, force); err != nil {
		slog.Warn("sync skipped",
			"component", "coordinator",
			"action", "gate",
			"scope", scope,
			"error", err,
		)
		result.Skipped = true
		result.SkipReason = err.Error()
		return result, nil
	}

	release, err := c.acquire(ctx, scope)
	if err != nil {
		result.Skipped = true
		result.SkipReason = err.Error()
		return result, err
	}
	defer release()

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancels[scope] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.cancels, scope)
		c.mu.Unlock()
		cancel()
	}()

	start := c.now()
	slog.Info("sync started",
		"component", "coordinator",
		"action", "sync_start",
		"scope", scope,
		"force", force,
	)

	pass := syncer.NewPassContext(scope)
	bodyErr := body(ctx, pass)
	empty := errors.Is(bodyErr, errNothingToReconcile)
	if empty {
		bodyErr = nil
	}

	kind := scopeKind[scope]
	result.Synced = pass.Synced()
	result.Failed = pass.Failures()
	result.Partial = bodyErr != nil || ctx.Err() != nil || !pass.Complete(kind)

	if ctx.Err() != nil {
		slog.Warn("sync aborted",
			"component", "coordinator",
			"action", "sync_abort",
			"scope", scope,
			"synced", result.Synced,
			"error", ctx.Err(),
		)
		result.Duration = c.now().Sub(start)
		return result, ctx.Err()
	}
	if bodyErr != nil {
		slog.Warn("sync fan-out failed",
			"component", "coordinator",
			"action", "fan_out",
			"scope", scope,
			"error", bodyErr,
		)
	}

	if scope == types.ScopeArtists && len(pass.Seen(kind)) == 0 && !result.Partial {
		empty = true
	}
	if empty && !result.Partial {
		slog.Info("source listing empty, nothing to reconcile",
			"component", "coordinator",
			"action", "sync_complete",
			"scope", scope,
		)
		result.Duration = c.now().Sub(start)
		return result, nil
	}

	if result.Partial && !c.opts.PurgeOnPartial {
		slog.Warn("pass incomplete, purge skipped",
			"component", "coordinator",
			"action", "purge_skipped",
			"scope", scope,
			"failed", result.Failed,
		)
		result.Duration = c.now().Sub(start)
		return result, nil
	}

	if err := c.purge(ctx, pass, &result); err != nil {
		result.Partial = true
		result.Duration = c.now().Sub(start)
		return result, fmt.Errorf("purge %s: %w", scope, err)
	}

	if !result.Partial {
		finished := c.now().UTC()
		if err := c.state.SetOption(ctx, LastCacheOption(scope), strconv.FormatInt(finished.Unix(), 10)); err != nil {
			result.Duration = c.now().Sub(start)
			return result, fmt.Errorf("record last synced: %w", err)
		}
		result.FinishedAt = &finished
	}
	result.Duration = c.now().Sub(start)

	slog.Info("sync completed",
		"component", "coordinator",
		"action", "sync_complete",
		"scope", scope,
		"synced", result.Synced,
		"failed", result.Failed,
		"purged", result.Purged,
		"terms_purged", result.TermsPurge,
		"partial", result.Partial,
		"duration_ms", result.Duration.Milliseconds(),
	)

	if !result.Partial {
		c.notify(ctx, result)
	}
	return result, nil
}

func (c *Coordinator) purge(ctx context.Context, pass *syncer.PassContext, result *types.PassResult) error {
	kind := scopeKind[pass.Scope]
	deleted, err := c.purger.PurgeStray(ctx, kind, pass.Seen(kind))
	if err != nil {
		return err
	}
	result.Purged = len(deleted)

	if pass.Scope == types.ScopeOffers {
		n, err := c.purger.PurgeStrayTerms(ctx, types.TagTaxonomy, pass.Tags())
		if err != nil {
			return err
		}
		result.TermsPurge = n
	}
	return nil
}

func (c *Coordinator) notify(ctx context.Context, result types.PassResult) {
	c.mu.Lock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()
	for _, o := range observers {
		o(ctx, result)
	}
}

// gate returns an error wrapping ErrDependencyNotMet when scope may not run.
func (c *Coordinator) gate(ctx context.Context, scope types.Scope, force bool) error {
	if force && scope != types.ScopeArtists {
		return nil
	}

	if !c.verified.Load() {
		if err := c.api.Verify(ctx); err != nil {
			return fmt.Errorf("%w: api not verified: %v", ErrDependencyNotMet, err)
		}
		c.verified.Store(true)
	}
	if err := c.state.Ping(ctx); err != nil {
		return fmt.Errorf("%w: store not ready: %v", ErrDependencyNotMet, err)
	}
	if scope == types.ScopeArtists {
		return nil
	}

	if !c.opts.ArtistsEnabled {
		return fmt.Errorf("%w: artists disabled", ErrDependencyNotMet)
	}
	artistsAt, err := c.lastSynced(ctx, types.ScopeArtists)
	if err != nil {
		return fmt.Errorf("%w: read artist state: %v", ErrDependencyNotMet, err)
	}
	if artistsAt == 0 {
		return fmt.Errorf("%w: artists never synced", ErrDependencyNotMet)
	}

	if scope == types.ScopeProducts {
		last, err := c.lastSynced(ctx, types.ScopeProducts)
		if err != nil {
			return fmt.Errorf("%w: read product state: %v", ErrDependencyNotMet, err)
		}
		if elapsed := c.now().Sub(time.Unix(last, 0)); last != 0 && elapsed < c.opts.ProductDelay {
			return fmt.Errorf("%w: products synced %s ago, delay %s", ErrDependencyNotMet, elapsed.Round(time.Second), c.opts.ProductDelay)
		}
	}
	return nil
}

// acquire takes the in-process scope lock and the persistent syncing flag.
// The returned func releases both.
func (c *Coordinator) acquire(ctx context.Context, scope types.Scope) (func(), error) {
	lock := c.locks[scope]
	if !lock.TryLock() {
		return nil, fmt.Errorf("%w: %s", ErrScopeBusy, scope)
	}

	ok, err := c.state.AcquireFlag(ctx, SyncingOption(scope))
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("acquire %s flag: %w", scope, err)
	}
	if !ok {
		lock.Unlock()
		return nil, fmt.Errorf("%w: %s flag held by another process", ErrScopeBusy, scope)
	}

	return func() {
		// The pass context may be cancelled; the flag must still clear.
		if err := c.state.ReleaseFlag(context.WithoutCancel(ctx), SyncingOption(scope)); err != nil {
			slog.Error("failed to release syncing flag",
				"component", "coordinator",
				"action", "release_flag",
				"scope", scope,
				"error", err,
			)
		}
		lock.Unlock()
	}, nil
}

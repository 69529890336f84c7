// Package coordinator drives sync passes per scope: it gates each pass on its
// prerequisites, holds the scope lock for the pass, fans out to the syncer,
// purges stray records after a complete pass and records when the scope
// last finished.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hyperengineering/spinsync/internal/prefetch"
	"github.com/hyperengineering/spinsync/internal/snapshot"
	"github.com/hyperengineering/spinsync/internal/syncer"
	"github.com/hyperengineering/spinsync/internal/types"
)

var (
	// ErrScopeBusy is returned when a pass of the same scope is already running,
	// in this process or in another one sharing the database.
	ErrScopeBusy = errors.New("sync already running for scope")

	// ErrDependencyNotMet reports an unmet gate. Gated passes are skipped, not
	// failed; the error is carried as the skip reason.
	ErrDependencyNotMet = errors.New("sync dependency not met")
)

// NeverSynced is the human rendering of a scope that never completed a pass.
const NeverSynced = "Never"

// Syncer is the entity syncer driven by the coordinator.
type Syncer interface {
	SyncArtists(ctx context.Context, pass *syncer.PassContext, prefetch bool)
	SyncArtistOffers(ctx context.Context, pass *syncer.PassContext, artistID int64, prefetch bool)
	SyncOffer(ctx context.Context, offerID string) error
	SyncProduct(ctx context.Context, pass *syncer.PassContext, offerID string) (bool, error)
	ArtistIDs(ctx context.Context) ([]int64, error)
	OfferIDs(ctx context.Context) ([]string, error)
}

// Purger removes what a complete pass did not observe.
type Purger interface {
	PurgeStray(ctx context.Context, kind types.Kind, seen map[string]struct{}) ([]string, error)
	PurgeStrayTerms(ctx context.Context, taxonomy string, seen []string) (int, error)
}

// StateStore persists scope state.
type StateStore interface {
	GetOption(ctx context.Context, name string) (string, error)
	SetOption(ctx context.Context, name, value string) error
	AcquireFlag(ctx context.Context, name string) (bool, error)
	ReleaseFlag(ctx context.Context, name string) error
	Ping(ctx context.Context) error
}

// Verifier checks the remote API credentials.
type Verifier interface {
	Verify(ctx context.Context) error
}

// Observer is notified after a scope completes a pass.
type Observer func(ctx context.Context, result types.PassResult)

// Options tune gating and purge behavior.
type Options struct {
	ArtistsEnabled bool
	ProductDelay   time.Duration
	PurgeOnPartial bool
	PrefetchDir    string
	Mirror         snapshot.Mirror
}

// Coordinator runs sync passes.
type Coordinator struct {
	syncer Syncer
	purger Purger
	state  StateStore
	api    Verifier
	opts   Options
	now    func() time.Time

	verified atomic.Bool
	locks    map[types.Scope]*sync.Mutex

	mu        sync.Mutex
	cancels   map[types.Scope]context.CancelFunc
	observers []Observer
}

// New creates a Coordinator.
func New(s Syncer, p Purger, state StateStore, api Verifier, opts Options) *Coordinator {
	if opts.Mirror == nil {
		opts.Mirror = snapshot.NoopMirror{}
	}
	locks := make(map[types.Scope]*sync.Mutex, len(types.Scopes))
	for _, sc := range types.Scopes {
		locks[sc] = &sync.Mutex{}
	}
	return &Coordinator{
		syncer:  s,
		purger:  p,
		state:   state,
		api:     api,
		opts:    opts,
		now:     time.Now,
		locks:   locks,
		cancels: make(map[types.Scope]context.CancelFunc),
	}
}

// LastCacheOption is the option holding the unix time of the scope's last
// completed pass.
func LastCacheOption(scope types.Scope) string {
	return fmt.Sprintf("topspin_last_cache_%s", scope)
}

// SyncingOption is the option set while a pass of the scope runs.
func SyncingOption(scope types.Scope) string {
	return fmt.Sprintf("topspin_is_syncing_%s", scope)
}

// OnFinish registers an observer called after every completed pass.
func (c *Coordinator) OnFinish(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// SyncArtists runs an artist pass.
func (c *Coordinator) SyncArtists(ctx context.Context, prefetch bool) (types.PassResult, error) {
	return c.run(ctx, types.ScopeArtists, false, func(ctx context.Context, pass *syncer.PassContext) error {
		c.syncer.SyncArtists(ctx, pass, prefetch)
		return nil
	})
}

// SyncOffers runs an offer pass over every known artist.
func (c *Coordinator) SyncOffers(ctx context.Context, prefetch, force bool) (types.PassResult, error) {
	return c.run(ctx, types.ScopeOffers, force, func(ctx context.Context, pass *syncer.PassContext) error {
		ids, err := c.syncer.ArtistIDs(ctx)
		if err != nil {
			return fmt.Errorf("list artists: %w", err)
		}
		if len(ids) == 0 {
			return errNothingToReconcile
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.syncer.SyncArtistOffers(ctx, pass, id, prefetch)
		}
		return nil
	})
}

// SyncProducts runs a product pass over every known offer.
func (c *Coordinator) SyncProducts(ctx context.Context, force bool) (types.PassResult, error) {
	return c.run(ctx, types.ScopeProducts, force, func(ctx context.Context, pass *syncer.PassContext) error {
		ids, err := c.syncer.OfferIDs(ctx)
		if err != nil {
			return fmt.Errorf("list offers: %w", err)
		}
		var failed int
		var lastErr error
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			// Missing linkage keeps the offer's products and is not a failure.
			if _, err := c.syncer.SyncProduct(ctx, pass, id); err != nil && !errors.Is(err, syncer.ErrLinkageMissing) {
				failed++
				lastErr = err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d offers failed: %w", failed, len(ids), lastErr)
		}
		return nil
	})
}

// SyncOfferSingle refreshes one offer outside of a pass. It is refused with
// ErrScopeBusy while an offer pass runs.
func (c *Coordinator) SyncOfferSingle(ctx context.Context, offerID string) error {
	release, err := c.acquire(ctx, types.ScopeOffers)
	if err != nil {
		return err
	}
	defer release()
	return c.syncer.SyncOffer(ctx, offerID)
}

// SyncProductSingle refreshes the products of one offer outside of a pass and
// reports whether the offer is in stock. It is refused with ErrScopeBusy
// while a product pass runs.
func (c *Coordinator) SyncProductSingle(ctx context.Context, offerID string) (bool, error) {
	release, err := c.acquire(ctx, types.ScopeProducts)
	if err != nil {
		return false, err
	}
	defer release()
	return c.syncer.SyncProduct(ctx, nil, offerID)
}

// Cancel aborts the running pass of scope. It reports whether one was running.
func (c *Coordinator) Cancel(scope types.Scope) bool {
	c.mu.Lock()
	cancel, ok := c.cancels[scope]
	c.mu.Unlock()
	if ok {
		cancel()
		slog.Info("sync cancelled",
			"component", "coordinator",
			"action", "cancel",
			"scope", scope,
		)
	}
	return ok
}

// LastSynced returns the unix time of the scope's last completed pass, or
// its relative rendering when human is set. A scope never synced yields ""
// raw and NeverSynced human.
func (c *Coordinator) LastSynced(ctx context.Context, scope types.Scope, human bool) (string, error) {
	ts, err := c.lastSynced(ctx, scope)
	if err != nil {
		return "", err
	}
	if !human {
		if ts == 0 {
			return "", nil
		}
		return strconv.FormatInt(ts, 10), nil
	}
	if ts == 0 {
		return NeverSynced, nil
	}
	return humanize.RelTime(time.Unix(ts, 0), c.now(), "ago", "from now"), nil
}

// Status reports the persisted state of every scope.
func (c *Coordinator) Status(ctx context.Context) ([]types.ScopeStatus, error) {
	out := make([]types.ScopeStatus, 0, len(types.Scopes))
	for _, sc := range types.Scopes {
		ts, err := c.lastSynced(ctx, sc)
		if err != nil {
			return nil, err
		}
		human, _ := c.LastSynced(ctx, sc, true)
		flag, err := c.state.GetOption(ctx, SyncingOption(sc))
		if err != nil {
			return nil, err
		}
		out = append(out, types.ScopeStatus{
			Scope:      sc,
			Syncing:    flag != "",
			LastSynced: ts,
			LastHuman:  human,
		})
	}
	return out, nil
}

// PurgePrefetch deletes every prefetch snapshot and returns how many.
func (c *Coordinator) PurgePrefetch(ctx context.Context) (int, error) {
	n, err := prefetch.Purge(ctx, c.opts.PrefetchDir, c.opts.Mirror)
	if err != nil {
		return n, err
	}
	slog.Info("prefetch snapshots purged",
		"component", "coordinator",
		"action", "purge_prefetch",
		"deleted", n,
	)
	return n, nil
}

// ResetFlags clears syncing flags left behind by a process that exited
// mid-pass. It must only run while no pass is active.
func (c *Coordinator) ResetFlags(ctx context.Context) error {
	for _, sc := range types.Scopes {
		if err := c.state.ReleaseFlag(ctx, SyncingOption(sc)); err != nil {
			return fmt.Errorf("reset %s flag: %w", sc, err)
		}
	}
	return nil
}

func (c *Coordinator) lastSynced(ctx context.Context, scope types.Scope) (int64, error) {
	v, err := c.state.GetOption(ctx, LastCacheOption(scope))
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, nil
	}
	return ts, nil
}

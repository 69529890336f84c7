package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/spinsync/internal/store"
	"github.com/hyperengineering/spinsync/internal/syncer"
	"github.com/hyperengineering/spinsync/internal/types"
)

// mockSyncer marks fixed ids as seen and can be told to fail or block.
type mockSyncer struct {
	mu sync.Mutex

	artistIDs  []int64
	offerIDs   []string
	seen       map[types.Kind][]string
	tags       []string
	failKind   types.Kind
	block      chan struct{}
	started    chan struct{}
	offerCalls []int64
	products   []string
	productErr map[string]error
	artistRuns int
}

func (m *mockSyncer) mark(pass *syncer.PassContext, kind types.Kind) {
	for _, id := range m.seen[kind] {
		pass.MarkSeen(kind, id)
	}
	if m.failKind == kind {
		pass.RecordFailure(kind)
	}
}

func (m *mockSyncer) wait(ctx context.Context) {
	if m.started != nil {
		close(m.started)
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
		}
	}
}

func (m *mockSyncer) SyncArtists(ctx context.Context, pass *syncer.PassContext, prefetch bool) {
	m.mu.Lock()
	m.artistRuns++
	m.mark(pass, types.KindArtist)
	m.mu.Unlock()
	m.wait(ctx)
}

func (m *mockSyncer) SyncArtistOffers(ctx context.Context, pass *syncer.PassContext, artistID int64, prefetch bool) {
	m.mu.Lock()
	m.offerCalls = append(m.offerCalls, artistID)
	m.mark(pass, types.KindOffer)
	pass.AddTags(m.tags...)
	m.mu.Unlock()
	m.wait(ctx)
}

func (m *mockSyncer) SyncOffer(ctx context.Context, offerID string) error { return nil }

func (m *mockSyncer) SyncProduct(ctx context.Context, pass *syncer.PassContext, offerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = append(m.products, offerID)
	if pass != nil {
		m.mark(pass, types.KindProduct)
	}
	if err := m.productErr[offerID]; err != nil {
		return false, err
	}
	return true, nil
}

func (m *mockSyncer) ArtistIDs(ctx context.Context) ([]int64, error) { return m.artistIDs, nil }

func (m *mockSyncer) OfferIDs(ctx context.Context) ([]string, error) { return m.offerIDs, nil }

func (m *mockSyncer) offerCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.offerCalls)
}

type purgeCall struct {
	kind types.Kind
	seen int
}

type mockPurger struct {
	mu        sync.Mutex
	calls     []purgeCall
	termCalls [][]string
}

func (m *mockPurger) PurgeStray(ctx context.Context, kind types.Kind, seen map[string]struct{}) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, purgeCall{kind: kind, seen: len(seen)})
	return []string{"stray"}, nil
}

func (m *mockPurger) PurgeStrayTerms(ctx context.Context, taxonomy string, seen []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.termCalls = append(m.termCalls, seen)
	return 2, nil
}

type mockVerifier struct{ err error }

func (m mockVerifier) Verify(ctx context.Context) error { return m.err }

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func defaultOpts() Options {
	return Options{ArtistsEnabled: true, ProductDelay: time.Minute}
}

func newTestCoordinator(t *testing.T, s *mockSyncer, opts Options) (*Coordinator, *mockPurger, *store.SQLiteStore) {
	t.Helper()
	st := newTestStore(t)
	p := &mockPurger{}
	opts.PrefetchDir = t.TempDir()
	return New(s, p, st, mockVerifier{}, opts), p, st
}

func markSynced(t *testing.T, st *store.SQLiteStore, scope types.Scope, at time.Time) {
	t.Helper()
	if err := st.SetOption(context.Background(), LastCacheOption(scope), strconv.FormatInt(at.Unix(), 10)); err != nil {
		t.Fatal(err)
	}
}

func TestSyncOffers_GatedUntilArtistsSynced(t *testing.T) {
	s := &mockSyncer{artistIDs: []int64{1, 2}}
	c, p, _ := newTestCoordinator(t, s, defaultOpts())

	res, err := c.SyncOffers(context.Background(), false, false)
	if err != nil {
		t.Fatalf("SyncOffers() error = %v", err)
	}
	if !res.Skipped {
		t.Error("expected pass to be skipped")
	}
	if s.offerCallCount() != 0 || len(p.calls) != 0 {
		t.Errorf("gated pass did work: offers=%d purges=%d", s.offerCallCount(), len(p.calls))
	}
}

func TestSyncOffers_ForceBypassesGate(t *testing.T) {
	s := &mockSyncer{artistIDs: []int64{1, 2}}
	c, _, _ := newTestCoordinator(t, s, Options{})

	res, err := c.SyncOffers(context.Background(), false, true)
	if err != nil {
		t.Fatalf("SyncOffers() error = %v", err)
	}
	if res.Skipped {
		t.Fatalf("forced pass skipped: %s", res.SkipReason)
	}
	if s.offerCallCount() != 2 {
		t.Errorf("artist fan-out = %d, want 2", s.offerCallCount())
	}
}

func TestGate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		scope    types.Scope
		opts     Options
		verify   error
		artists  time.Time
		products time.Time
		wantErr  bool
	}{
		{name: "artists ungated", scope: types.ScopeArtists, opts: defaultOpts()},
		{name: "api unverified", scope: types.ScopeArtists, opts: defaultOpts(), verify: errors.New("401"), wantErr: true},
		{name: "offers without artists", scope: types.ScopeOffers, opts: defaultOpts(), wantErr: true},
		{name: "offers ready", scope: types.ScopeOffers, opts: defaultOpts(), artists: now},
		{name: "artists disabled", scope: types.ScopeOffers, opts: Options{}, artists: now, wantErr: true},
		{name: "products within delay", scope: types.ScopeProducts, opts: defaultOpts(), artists: now, products: now.Add(-10 * time.Second), wantErr: true},
		{name: "products after delay", scope: types.ScopeProducts, opts: defaultOpts(), artists: now, products: now.Add(-2 * time.Minute)},
		{name: "products never synced", scope: types.ScopeProducts, opts: defaultOpts(), artists: now},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newTestStore(t)
			c := New(&mockSyncer{}, &mockPurger{}, st, mockVerifier{err: tt.verify}, tt.opts)
			if !tt.artists.IsZero() {
				markSynced(t, st, types.ScopeArtists, tt.artists)
			}
			if !tt.products.IsZero() {
				markSynced(t, st, types.ScopeProducts, tt.products)
			}

			err := c.gate(context.Background(), tt.scope, false)
			if tt.wantErr {
				if !errors.Is(err, ErrDependencyNotMet) {
					t.Errorf("gate() error = %v, want ErrDependencyNotMet", err)
				}
				return
			}
			if err != nil {
				t.Errorf("gate() error = %v", err)
			}
		})
	}
}

func TestSyncProducts_ForceIgnoresDelay(t *testing.T) {
	s := &mockSyncer{offerIDs: []string{"o1", "o2"}}
	c, _, st := newTestCoordinator(t, s, defaultOpts())
	markSynced(t, st, types.ScopeArtists, time.Now())
	markSynced(t, st, types.ScopeProducts, time.Now())

	res, _ := c.SyncProducts(context.Background(), false)
	if !res.Skipped || len(s.products) != 0 {
		t.Fatalf("products ran within delay: %+v", res)
	}

	res, err := c.SyncProducts(context.Background(), true)
	if err != nil {
		t.Fatalf("SyncProducts() error = %v", err)
	}
	if res.Skipped || len(s.products) != 2 {
		t.Errorf("forced products: skipped=%v synced offers=%v", res.Skipped, s.products)
	}
}

func TestSyncOffers_CompletePassPurgesAndStamps(t *testing.T) {
	s := &mockSyncer{
		artistIDs: []int64{1},
		seen:      map[types.Kind][]string{types.KindOffer: {"a", "c"}},
		tags:      []string{"lp"},
	}
	c, p, st := newTestCoordinator(t, s, defaultOpts())
	markSynced(t, st, types.ScopeArtists, time.Now())

	var observed []types.PassResult
	c.OnFinish(func(ctx context.Context, r types.PassResult) { observed = append(observed, r) })

	res, err := c.SyncOffers(context.Background(), false, false)
	if err != nil {
		t.Fatalf("SyncOffers() error = %v", err)
	}
	if res.Partial || res.FinishedAt == nil {
		t.Errorf("result = %+v, want complete with FinishedAt", res)
	}
	if len(p.calls) != 1 || p.calls[0].kind != types.KindOffer || p.calls[0].seen != 2 {
		t.Errorf("purge calls = %+v", p.calls)
	}
	if len(p.termCalls) != 1 || len(p.termCalls[0]) != 1 || p.termCalls[0][0] != "lp" {
		t.Errorf("term purge calls = %v", p.termCalls)
	}
	if res.Purged != 1 || res.TermsPurge != 2 {
		t.Errorf("purged = %d/%d, want 1/2", res.Purged, res.TermsPurge)
	}
	if raw, _ := c.LastSynced(context.Background(), types.ScopeOffers, false); raw == "" {
		t.Error("last synced not recorded")
	}
	if len(observed) != 1 || observed[0].Scope != types.ScopeOffers {
		t.Errorf("observers = %+v", observed)
	}
	if flag, _ := st.GetOption(context.Background(), SyncingOption(types.ScopeOffers)); flag != "" {
		t.Errorf("syncing flag = %q after pass", flag)
	}
}

func TestSyncOffers_PartialPassSkipsPurge(t *testing.T) {
	s := &mockSyncer{artistIDs: []int64{1}, failKind: types.KindOffer}
	c, p, st := newTestCoordinator(t, s, defaultOpts())
	markSynced(t, st, types.ScopeArtists, time.Now())

	observed := 0
	c.OnFinish(func(ctx context.Context, r types.PassResult) { observed++ })

	res, err := c.SyncOffers(context.Background(), false, false)
	if err != nil {
		t.Fatalf("SyncOffers() error = %v", err)
	}
	if !res.Partial || res.Failed != 1 {
		t.Errorf("result = %+v, want partial with one failure", res)
	}
	if len(p.calls) != 0 {
		t.Errorf("purge ran after partial pass: %+v", p.calls)
	}
	if raw, _ := c.LastSynced(context.Background(), types.ScopeOffers, false); raw != "" {
		t.Errorf("last synced = %q after partial pass", raw)
	}
	if observed != 0 {
		t.Error("observers notified after partial pass")
	}
}

func TestSyncOffers_PurgeOnPartial(t *testing.T) {
	s := &mockSyncer{artistIDs: []int64{1}, failKind: types.KindOffer}
	opts := defaultOpts()
	opts.PurgeOnPartial = true
	c, p, st := newTestCoordinator(t, s, opts)
	markSynced(t, st, types.ScopeArtists, time.Now())

	res, err := c.SyncOffers(context.Background(), false, false)
	if err != nil {
		t.Fatalf("SyncOffers() error = %v", err)
	}
	if len(p.calls) != 1 {
		t.Errorf("purge calls = %d, want 1", len(p.calls))
	}
	if res.FinishedAt != nil {
		t.Error("partial pass must not record a finish time")
	}
}

func TestSyncArtists_EmptyListingLeavesState(t *testing.T) {
	c, p, _ := newTestCoordinator(t, &mockSyncer{}, defaultOpts())

	res, err := c.SyncArtists(context.Background(), false)
	if err != nil {
		t.Fatalf("SyncArtists() error = %v", err)
	}
	if len(p.calls) != 0 || res.FinishedAt != nil {
		t.Errorf("empty listing purged or stamped: %+v", res)
	}
}

func TestSyncOffers_NoArtistsLeavesState(t *testing.T) {
	s := &mockSyncer{seen: map[types.Kind][]string{types.KindOffer: {"a"}}}
	c, p, st := newTestCoordinator(t, s, defaultOpts())

	observed := 0
	c.OnFinish(func(ctx context.Context, r types.PassResult) { observed++ })

	res, err := c.SyncOffers(context.Background(), false, true)
	if err != nil {
		t.Fatalf("SyncOffers() error = %v", err)
	}
	if res.Skipped || res.Partial {
		t.Errorf("result = %+v, want a finished empty pass", res)
	}
	if len(p.calls) != 0 || len(p.termCalls) != 0 {
		t.Errorf("empty artist set purged: records=%+v terms=%v", p.calls, p.termCalls)
	}
	if res.FinishedAt != nil {
		t.Error("empty artist set must not record a finish time")
	}
	if raw, _ := st.GetOption(context.Background(), LastCacheOption(types.ScopeOffers)); raw != "" {
		t.Errorf("last synced = %q after empty artist set", raw)
	}
	if observed != 0 {
		t.Error("observers notified after empty artist set")
	}
}

func TestSyncProducts_OfferFailureMakesPassPartial(t *testing.T) {
	s := &mockSyncer{
		offerIDs: []string{"o1", "o2", "o3"},
		seen:     map[types.Kind][]string{types.KindProduct: {"p1"}},
		productErr: map[string]error{
			"o2": errors.New("database is locked"),
		},
	}
	c, p, st := newTestCoordinator(t, s, defaultOpts())
	markSynced(t, st, types.ScopeArtists, time.Now())

	res, err := c.SyncProducts(context.Background(), false)
	if err != nil {
		t.Fatalf("SyncProducts() error = %v", err)
	}
	if !res.Partial {
		t.Errorf("result = %+v, want partial", res)
	}
	if len(s.products) != 3 {
		t.Errorf("products synced for %v, want every offer", s.products)
	}
	if len(p.calls) != 0 {
		t.Errorf("purge ran after failed offer: %+v", p.calls)
	}
	if res.FinishedAt != nil {
		t.Error("partial pass must not record a finish time")
	}
}

func TestSyncProducts_MissingLinkageIsNotAFailure(t *testing.T) {
	s := &mockSyncer{
		offerIDs:   []string{"o1", "o2"},
		seen:       map[types.Kind][]string{types.KindProduct: {"p1"}},
		productErr: map[string]error{"o1": syncer.ErrLinkageMissing},
	}
	c, p, st := newTestCoordinator(t, s, defaultOpts())
	markSynced(t, st, types.ScopeArtists, time.Now())

	res, err := c.SyncProducts(context.Background(), false)
	if err != nil {
		t.Fatalf("SyncProducts() error = %v", err)
	}
	if res.Partial || res.FinishedAt == nil {
		t.Errorf("result = %+v, want complete", res)
	}
	if len(p.calls) != 1 || p.calls[0].kind != types.KindProduct {
		t.Errorf("purge calls = %+v", p.calls)
	}
}

func TestSyncArtists_BusyWhenFlagHeld(t *testing.T) {
	s := &mockSyncer{}
	c, _, st := newTestCoordinator(t, s, defaultOpts())
	if ok, _ := st.AcquireFlag(context.Background(), SyncingOption(types.ScopeArtists)); !ok {
		t.Fatal("could not pre-acquire flag")
	}

	_, err := c.SyncArtists(context.Background(), false)
	if !errors.Is(err, ErrScopeBusy) {
		t.Errorf("SyncArtists() error = %v, want ErrScopeBusy", err)
	}
	if s.artistRuns != 0 {
		t.Error("busy scope ran a pass")
	}

	if err := c.ResetFlags(context.Background()); err != nil {
		t.Fatalf("ResetFlags() error = %v", err)
	}
	if _, err := c.SyncArtists(context.Background(), false); err != nil {
		t.Errorf("SyncArtists() after reset error = %v", err)
	}
}

func TestSyncArtists_SecondConcurrentPassIsBusy(t *testing.T) {
	s := &mockSyncer{block: make(chan struct{}), started: make(chan struct{})}
	c, _, _ := newTestCoordinator(t, s, defaultOpts())

	done := make(chan error, 1)
	go func() {
		_, err := c.SyncArtists(context.Background(), false)
		done <- err
	}()
	<-s.started

	if _, err := c.SyncArtists(context.Background(), false); !errors.Is(err, ErrScopeBusy) {
		t.Errorf("concurrent SyncArtists() error = %v, want ErrScopeBusy", err)
	}

	close(s.block)
	if err := <-done; err != nil {
		t.Errorf("first pass error = %v", err)
	}
}

func TestCancel_AbortsPassAndReleasesFlag(t *testing.T) {
	s := &mockSyncer{
		block:   make(chan struct{}),
		started: make(chan struct{}),
		seen:    map[types.Kind][]string{types.KindArtist: {"a"}},
	}
	c, p, st := newTestCoordinator(t, s, defaultOpts())

	if c.Cancel(types.ScopeArtists) {
		t.Error("Cancel() reported a pass before one started")
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.SyncArtists(context.Background(), false)
		done <- err
	}()
	<-s.started

	if !c.Cancel(types.ScopeArtists) {
		t.Fatal("Cancel() found no running pass")
	}

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("pass error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pass did not stop after cancel")
	}

	if len(p.calls) != 0 {
		t.Error("cancelled pass purged")
	}
	if flag, _ := st.GetOption(context.Background(), SyncingOption(types.ScopeArtists)); flag != "" {
		t.Errorf("syncing flag = %q after cancel", flag)
	}
	if raw, _ := c.LastSynced(context.Background(), types.ScopeArtists, false); raw != "" {
		t.Errorf("cancelled pass recorded last synced %q", raw)
	}
}

func TestLastSynced(t *testing.T) {
	c, _, st := newTestCoordinator(t, &mockSyncer{}, defaultOpts())
	ctx := context.Background()

	if got, _ := c.LastSynced(ctx, types.ScopeOffers, true); got != NeverSynced {
		t.Errorf("human = %q, want %q", got, NeverSynced)
	}
	if got, _ := c.LastSynced(ctx, types.ScopeOffers, false); got != "" {
		t.Errorf("raw = %q, want empty", got)
	}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	markSynced(t, st, types.ScopeOffers, now.Add(-5*time.Minute))

	if got, _ := c.LastSynced(ctx, types.ScopeOffers, true); got != "5 minutes ago" {
		t.Errorf("human = %q, want %q", got, "5 minutes ago")
	}
	want := strconv.FormatInt(now.Add(-5*time.Minute).Unix(), 10)
	if got, _ := c.LastSynced(ctx, types.ScopeOffers, false); got != want {
		t.Errorf("raw = %q, want %q", got, want)
	}
}

func TestStatus(t *testing.T) {
	c, _, st := newTestCoordinator(t, &mockSyncer{}, defaultOpts())
	ctx := context.Background()
	markSynced(t, st, types.ScopeArtists, time.Now())
	st.AcquireFlag(ctx, SyncingOption(types.ScopeProducts))

	status, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(status) != 3 {
		t.Fatalf("len(Status()) = %d, want 3", len(status))
	}
	if status[0].LastSynced == 0 || status[0].LastHuman == NeverSynced {
		t.Errorf("artists status = %+v", status[0])
	}
	if status[1].LastHuman != NeverSynced || status[1].Syncing {
		t.Errorf("offers status = %+v", status[1])
	}
	if !status[2].Syncing {
		t.Errorf("products status = %+v, want syncing", status[2])
	}
}

func TestSyncSingles_Delegate(t *testing.T) {
	s := &mockSyncer{}
	c, _, _ := newTestCoordinator(t, s, defaultOpts())

	if err := c.SyncOfferSingle(context.Background(), "o1"); err != nil {
		t.Errorf("SyncOfferSingle() error = %v", err)
	}
	inStock, err := c.SyncProductSingle(context.Background(), "o1")
	if err != nil || !inStock {
		t.Errorf("SyncProductSingle() = %v, %v", inStock, err)
	}
	if len(s.products) != 1 || s.products[0] != "o1" {
		t.Errorf("products = %v", s.products)
	}
}

func TestSyncOfferSingle_BusyDuringOfferPass(t *testing.T) {
	s := &mockSyncer{artistIDs: []int64{1}, block: make(chan struct{}), started: make(chan struct{})}
	c, _, _ := newTestCoordinator(t, s, defaultOpts())

	done := make(chan error, 1)
	go func() {
		_, err := c.SyncOffers(context.Background(), false, true)
		done <- err
	}()
	<-s.started

	if err := c.SyncOfferSingle(context.Background(), "o1"); !errors.Is(err, ErrScopeBusy) {
		t.Errorf("SyncOfferSingle() during pass error = %v, want ErrScopeBusy", err)
	}

	close(s.block)
	if err := <-done; err != nil {
		t.Fatalf("offer pass error = %v", err)
	}
	if err := c.SyncOfferSingle(context.Background(), "o1"); err != nil {
		t.Errorf("SyncOfferSingle() after pass error = %v", err)
	}
}

func TestSyncProductSingle_BusyWhileScopeHeld(t *testing.T) {
	s := &mockSyncer{}
	c, _, st := newTestCoordinator(t, s, defaultOpts())
	ctx := context.Background()

	c.locks[types.ScopeProducts].Lock()
	if _, err := c.SyncProductSingle(ctx, "o1"); !errors.Is(err, ErrScopeBusy) {
		t.Errorf("SyncProductSingle() error = %v, want ErrScopeBusy", err)
	}
	c.locks[types.ScopeProducts].Unlock()

	if ok, _ := st.AcquireFlag(ctx, SyncingOption(types.ScopeProducts)); !ok {
		t.Fatal("could not pre-acquire flag")
	}
	if _, err := c.SyncProductSingle(ctx, "o1"); !errors.Is(err, ErrScopeBusy) {
		t.Errorf("SyncProductSingle() with flag held error = %v, want ErrScopeBusy", err)
	}
	if len(s.products) != 0 {
		t.Errorf("busy scope synced products: %v", s.products)
	}

	if err := st.ReleaseFlag(ctx, SyncingOption(types.ScopeProducts)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.SyncProductSingle(ctx, "o1"); err != nil {
		t.Errorf("SyncProductSingle() after release error = %v", err)
	}
	if flag, _ := st.GetOption(ctx, SyncingOption(types.ScopeProducts)); flag != "" {
		t.Errorf("syncing flag = %q after single sync", flag)
	}
}

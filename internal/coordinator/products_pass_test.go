package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hyperengineering/spinsync/internal/mapper"
	"github.com/hyperengineering/spinsync/internal/reconcile"
	"github.com/hyperengineering/spinsync/internal/store"
	"github.com/hyperengineering/spinsync/internal/syncer"
	"github.com/hyperengineering/spinsync/internal/types"
)

// catalogAPI serves a SKU table per campaign. Listings are unused by
// product passes.
type catalogAPI struct {
	mu   sync.Mutex
	skus map[string][]types.RemoteSku
}

func (c *catalogAPI) ListArtists(ctx context.Context, p types.ListParams) (*types.ArtistPage, error) {
	return &types.ArtistPage{CurrentPage: 1, TotalPages: 1}, nil
}

func (c *catalogAPI) ListOffers(ctx context.Context, p types.ListParams) (*types.OfferPage, error) {
	return &types.OfferPage{CurrentPage: 1, TotalPages: 1}, nil
}

func (c *catalogAPI) GetOffer(ctx context.Context, id int64) (*types.RemoteOffer, error) {
	return nil, errors.New("not found")
}

func (c *catalogAPI) GetSkus(ctx context.Context, campaignID string) (*types.SkuResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp := &types.SkuResponse{Status: "ok"}
	resp.Response.Skus = c.skus[campaignID]
	return resp, nil
}

func seedOffers(t *testing.T, s *syncer.Syncer, st *store.SQLiteStore, offers ...types.RemoteOffer) map[int64]string {
	t.Helper()
	pass := syncer.NewPassContext(types.ScopeOffers)
	s.SyncOfferPage(context.Background(), pass, &types.OfferPage{TotalEntries: len(offers), Offers: offers})
	if !pass.Complete(types.KindOffer) {
		t.Fatal("seeding offers failed")
	}

	ids := make(map[int64]string, len(offers))
	for _, o := range offers {
		id, ok, err := st.FindByMeta(context.Background(), mapper.Offer{}.Key(o))
		if err != nil || !ok {
			t.Fatalf("offer %d not stored: %v", o.ID, err)
		}
		ids[o.ID] = id
	}
	return ids
}

func TestSyncProducts_PurgesOnlyUnobservedProducts(t *testing.T) {
	st := newTestStore(t)
	api := &catalogAPI{skus: map[string][]types.RemoteSku{
		"55": {{ID: 1, Available: true}, {ID: 2}},
		"77": {{ID: 5, Available: true}},
	}}
	s := syncer.New(api, nil, st, nil, 0)
	c := New(s, reconcile.New(st, nil), st, mockVerifier{}, defaultOpts())
	ctx := context.Background()

	vinyl := types.RemoteOffer{ID: 10, ArtistID: 1, Name: "Vinyl", ProductType: "package", MobileURL: "http://m.example.com/store/offer/55"}
	shirt := types.RemoteOffer{ID: 11, ArtistID: 1, Name: "Shirt", ProductType: "package", MobileURL: "http://m.example.com/store/offer/77"}
	ticket := types.RemoteOffer{ID: 12, ArtistID: 1, Name: "Show", ProductType: "ticket"}
	ids := seedOffers(t, s, st, vinyl, shirt, ticket)

	res, err := c.SyncProducts(ctx, true)
	if err != nil {
		t.Fatalf("first SyncProducts() error = %v", err)
	}
	if res.Partial || res.FinishedAt == nil {
		t.Fatalf("first pass = %+v, want complete", res)
	}

	// A product left behind by an offer that no longer exists.
	orphan, err := st.CreateRecord(ctx, types.RecordFields{Kind: types.KindProduct, Title: "orphan"})
	if err != nil {
		t.Fatal(err)
	}

	// The vinyl now has one SKU and the shirt loses its campaign linkage.
	api.skus["55"] = []types.RemoteSku{{ID: 3}}
	shirt.MobileURL = ""
	seedOffers(t, s, st, shirt)
	shirtKids, _ := st.ChildIDs(ctx, ids[11], types.KindProduct)

	res, err = c.SyncProducts(ctx, true)
	if err != nil {
		t.Fatalf("second SyncProducts() error = %v", err)
	}
	if res.Partial || res.FinishedAt == nil {
		t.Fatalf("second pass = %+v, want complete", res)
	}
	if res.Purged != 1 {
		t.Errorf("purged = %d, want 1", res.Purged)
	}
	if _, err := st.GetRecord(ctx, orphan); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("orphan product should be purged, err = %v", err)
	}

	if kids, _ := st.ChildIDs(ctx, ids[10], types.KindProduct); len(kids) != 1 {
		t.Errorf("vinyl products = %d, want 1", len(kids))
	}
	after, _ := st.ChildIDs(ctx, ids[11], types.KindProduct)
	if len(after) != 1 || len(shirtKids) != 1 || after[0] != shirtKids[0] {
		t.Errorf("shirt products = %v, want %v kept", after, shirtKids)
	}
	if v, _ := st.GetMeta(ctx, ids[11], mapper.MetaInStock); v != "false" {
		t.Errorf("shirt in stock = %q, want false", v)
	}
	if v, _ := st.GetMeta(ctx, ids[12], mapper.MetaInStock); v != "true" {
		t.Errorf("ticket in stock = %q, want true", v)
	}
	if raw, _ := c.LastSynced(ctx, types.ScopeProducts, false); raw == "" {
		t.Error("last synced not recorded")
	}
}

func TestSyncProducts_StoreFailureSkipsPurge(t *testing.T) {
	st := newTestStore(t)
	api := &catalogAPI{skus: map[string][]types.RemoteSku{"55": {{ID: 1, Available: true}}}}
	ctx := context.Background()

	seeding := syncer.New(api, nil, st, nil, 0)
	vinyl := types.RemoteOffer{ID: 10, ArtistID: 1, Name: "Vinyl", ProductType: "package", MobileURL: "http://m.example.com/store/offer/55"}
	ids := seedOffers(t, seeding, st, vinyl)
	if _, err := seeding.SyncProduct(ctx, nil, ids[10]); err != nil {
		t.Fatal(err)
	}
	orphan, err := st.CreateRecord(ctx, types.RecordFields{Kind: types.KindProduct, Title: "orphan"})
	if err != nil {
		t.Fatal(err)
	}

	api.skus["55"] = []types.RemoteSku{{ID: 2}}
	s := syncer.New(api, nil, lockedStore{st}, nil, 0)
	c := New(s, reconcile.New(st, nil), st, mockVerifier{}, defaultOpts())

	res, err := c.SyncProducts(ctx, true)
	if err != nil {
		t.Fatalf("SyncProducts() error = %v", err)
	}
	if !res.Partial || res.Failed == 0 {
		t.Errorf("result = %+v, want partial with a failure", res)
	}
	if res.FinishedAt != nil {
		t.Error("partial pass must not record a finish time")
	}
	if _, err := st.GetRecord(ctx, orphan); err != nil {
		t.Errorf("purge ran after partial pass: %v", err)
	}
	if v, _ := st.GetMeta(ctx, ids[10], mapper.MetaInStock); v != "true" {
		t.Errorf("in stock = %q, want true left unchanged", v)
	}
}

// lockedStore rejects record deletion as a busy database would.
type lockedStore struct {
	*store.SQLiteStore
}

func (l lockedStore) DeleteRecords(ctx context.Context, ids []string) (int64, error) {
	return 0, errors.New("database is locked")
}

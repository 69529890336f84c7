// Package e2e drives the admin API against a real store and a fake remote
// catalog, end to end.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/spinsync/internal/api"
	"github.com/hyperengineering/spinsync/internal/asset"
	"github.com/hyperengineering/spinsync/internal/coordinator"
	"github.com/hyperengineering/spinsync/internal/mapper"
	"github.com/hyperengineering/spinsync/internal/prefetch"
	"github.com/hyperengineering/spinsync/internal/reconcile"
	"github.com/hyperengineering/spinsync/internal/store"
	"github.com/hyperengineering/spinsync/internal/syncer"
	"github.com/hyperengineering/spinsync/internal/topspin"
	"github.com/hyperengineering/spinsync/internal/types"
)

const testAPIKey = "e2e-admin-key"

// --- Fake remote catalog ---

type fakeCatalog struct {
	mu      sync.Mutex
	artists []types.RemoteArtist
	offers  map[int64][]types.RemoteOffer
	skus    map[string][]types.RemoteSku
	image   []byte

	server *httptest.Server
}

func newFakeCatalog(t *testing.T) *fakeCatalog {
	t.Helper()
	c := &fakeCatalog{
		offers: make(map[int64][]types.RemoteOffer),
		skus:   make(map[string][]types.RemoteSku),
		image:  testPNG(t),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/artist", c.listArtists)
	mux.HandleFunc("/api/v1/offers", c.listOffers)
	mux.HandleFunc("/api/v1/offers/", c.getOffer)
	mux.HandleFunc("/api/v2/order/skus", c.getSkus)
	mux.HandleFunc("/img/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(c.image)
	})
	c.server = httptest.NewServer(mux)
	t.Cleanup(c.server.Close)
	return c
}

func (c *fakeCatalog) imageURL(name string) string {
	return c.server.URL + "/img/" + name + ".png"
}

func (c *fakeCatalog) setArtists(artists ...types.RemoteArtist) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artists = artists
}

func (c *fakeCatalog) setOffers(artistID int64, offers ...types.RemoteOffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers[artistID] = offers
}

func (c *fakeCatalog) setSkus(campaignID string, skus ...types.RemoteSku) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skus[campaignID] = skus
}

func (c *fakeCatalog) listArtists(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	writeJSON(w, types.ArtistPage{
		TotalEntries: len(c.artists), CurrentPage: 1, TotalPages: 1, Artists: c.artists,
	})
}

func (c *fakeCatalog) listOffers(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	artistID, _ := strconv.ParseInt(r.URL.Query().Get("artist_id"), 10, 64)
	offers := c.offers[artistID]
	writeJSON(w, types.OfferPage{
		TotalEntries: len(offers), CurrentPage: 1, TotalPages: 1, Offers: offers,
	})
}

func (c *fakeCatalog) getOffer(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, _ := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/api/v1/offers/"), 10, 64)
	for _, offers := range c.offers {
		for _, o := range offers {
			if o.ID == id {
				writeJSON(w, o)
				return
			}
		}
	}
	http.NotFound(w, r)
}

func (c *fakeCatalog) getSkus(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp := types.SkuResponse{Status: "ok"}
	resp.Response.Skus = c.skus[r.URL.Query().Get("campaign_id")]
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for x := 0; x < 64; x++ {
		for y := 0; y < 48; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

// --- In-process server ---

type harness struct {
	t         *testing.T
	catalog   *fakeCatalog
	store     *store.SQLiteStore
	handler   *api.Handler
	server    *httptest.Server
	assetsDir string
}

// newHarness wires the full component graph the way serve does, against
// a temp directory and the fake catalog.
func newHarness(t *testing.T, catalog *fakeCatalog) *harness {
	t.Helper()
	dir := t.TempDir()

	db, err := store.NewSQLiteStore(filepath.Join(dir, "spinsync.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	client := topspin.NewClient(topspin.Options{BaseURL: catalog.server.URL, User: "u", Key: "k"})
	assetsDir := filepath.Join(dir, "uploads")
	files := asset.NewFileStore(db, asset.Options{
		RootDir:  assetsDir,
		Variants: []asset.Size{{Width: 16, Height: 16}},
		Timeout:  5 * time.Second,
	})
	prefetchDir := filepath.Join(dir, "prefetch")
	s := syncer.New(client, prefetch.NewSource(prefetchDir, nil), db, asset.NewCache(files), 0)
	coord := coordinator.New(s, reconcile.New(db, files), db, client, coordinator.Options{
		ArtistsEnabled: true,
		PrefetchDir:    prefetchDir,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h := api.NewHandler(ctx, coord, db, testAPIKey, "e2e")
	srv := httptest.NewServer(api.NewRouter(h, 1000))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		h.Wait()
	})

	return &harness{t: t, catalog: catalog, store: db, handler: h, server: srv, assetsDir: assetsDir}
}

// do sends an authenticated request and decodes a JSON response into out.
func (h *harness) do(method, path string, out any) int {
	h.t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, nil)
	if err != nil {
		h.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			h.t.Fatalf("decode %s %s response: %v\n%s", method, path, err, body)
		}
	}
	return resp.StatusCode
}

// trigger runs a pass synchronously and returns its result.
func (h *harness) trigger(scope types.Scope) types.PassResult {
	h.t.Helper()
	var resp types.TriggerResponse
	if code := h.do(http.MethodPost, "/api/v1/sync/"+string(scope)+"?wait=true", &resp); code != http.StatusOK {
		h.t.Fatalf("trigger %s: status %d", scope, code)
	}
	if resp.Result == nil {
		h.t.Fatalf("trigger %s: no result", scope)
	}
	return *resp.Result
}

// offerID resolves the local record id of a remote offer.
func (h *harness) offerID(remoteID int64) string {
	h.t.Helper()
	id, ok, err := h.store.FindByMeta(context.Background(), types.LookupKey{
		Kind:    types.KindOffer,
		MetaKey: mapper.MetaOfferID,
		Value:   strconv.FormatInt(remoteID, 10),
	})
	if err != nil || !ok {
		h.t.Fatalf("offer %d not stored: ok=%v err=%v", remoteID, ok, err)
	}
	return id
}

func (h *harness) count(kind types.Kind) int {
	h.t.Helper()
	ids, err := h.store.RecordIDs(context.Background(), kind)
	if err != nil {
		h.t.Fatalf("RecordIDs(%s) error = %v", kind, err)
	}
	return len(ids)
}

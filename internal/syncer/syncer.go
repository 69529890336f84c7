// Package syncer pulls remote catalog entities into local records: one page
// at a time, create-or-update by remote id, with thumbnails and tags, while
// tracking every id it touches on the pass.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hyperengineering/spinsync/internal/mapper"
	"github.com/hyperengineering/spinsync/internal/prefetch"
	"github.com/hyperengineering/spinsync/internal/store"
	"github.com/hyperengineering/spinsync/internal/topspin"
	"github.com/hyperengineering/spinsync/internal/types"
	"github.com/hyperengineering/spinsync/internal/validation"
)

// ErrLinkageMissing is returned when an offer carries no campaign id to
// query SKUs with.
var ErrLinkageMissing = errors.New("campaign linkage missing")

// errProductStore marks a local store failure while replacing products.
var errProductStore = errors.New("product store write failed")

// DefaultPageSize is the per_page value of live listings.
const DefaultPageSize = 100

// RemoteAPI is the remote catalog client.
type RemoteAPI interface {
	ListArtists(ctx context.Context, p types.ListParams) (*types.ArtistPage, error)
	ListOffers(ctx context.Context, p types.ListParams) (*types.OfferPage, error)
	GetOffer(ctx context.Context, id int64) (*types.RemoteOffer, error)
	GetSkus(ctx context.Context, campaignID string) (*types.SkuResponse, error)
}

// SnapshotSource reads prefetch snapshots.
type SnapshotSource interface {
	Artists(ctx context.Context) (*types.ArtistPage, error)
	Offers(ctx context.Context, artistID int64) ([]types.OfferPage, error)
}

// AssetCache attaches a remote image to a record.
type AssetCache interface {
	FetchAndAttach(ctx context.Context, rawURL, ownerID string) (string, error)
}

// Store is the record and taxonomy storage the syncer writes to.
type Store interface {
	store.RecordStore
	SetRecordTerms(ctx context.Context, recordID, taxonomy string, names []string) error
}

// Syncer syncs artists, offers and products.
type Syncer struct {
	api       RemoteAPI
	snapshots SnapshotSource
	store     Store
	assets    AssetCache
	pageSize  int
}

// New creates a Syncer. A pageSize of zero selects DefaultPageSize.
func New(api RemoteAPI, snapshots SnapshotSource, st Store, assets AssetCache, pageSize int) *Syncer {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Syncer{api: api, snapshots: snapshots, store: st, assets: assets, pageSize: pageSize}
}

// upsert resolves the local record of entity by its remote key, updates it
// or creates it, and writes its metadata.
func upsert[T any](ctx context.Context, st store.RecordStore, m mapper.Mapper[T], entity T, parentID string) (string, bool, error) {
	key := m.Key(entity)
	fields := m.Fields(entity)
	fields.ParentID = parentID

	id, found, err := st.FindByMeta(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("lookup %s %s: %w", key.Kind, key.Value, err)
	}
	if found {
		if err := st.UpdateRecord(ctx, id, fields); err != nil {
			return "", false, fmt.Errorf("update %s %s: %w", key.Kind, key.Value, err)
		}
	} else {
		id, err = st.CreateRecord(ctx, fields)
		if err != nil {
			return "", false, fmt.Errorf("create %s %s: %w", key.Kind, key.Value, err)
		}
	}

	if err := st.SetMetadata(ctx, id, m.Metadata(entity)); err != nil {
		return "", false, fmt.Errorf("write metadata of %s %s: %w", key.Kind, key.Value, err)
	}
	return id, !found, nil
}

// attach caches an image for a record. Failures leave the previous asset in
// place and do not fail the entity.
func (s *Syncer) attach(ctx context.Context, rawURL, recordID string) {
	if rawURL == "" || s.assets == nil {
		return
	}
	if _, err := s.assets.FetchAndAttach(ctx, rawURL, recordID); err != nil {
		slog.Warn("asset cache failed",
			"component", "syncer",
			"action", "fetch_and_attach",
			"record_id", recordID,
			"url", rawURL,
			"error", err,
		)
	}
}

// --- Artists ---

// SyncArtists syncs every artist, from the prefetch snapshot when requested
// and present, otherwise from the live listing.
func (s *Syncer) SyncArtists(ctx context.Context, pass *PassContext, prefetch bool) {
	if prefetch && s.snapshots != nil {
		page, err := s.snapshots.Artists(ctx)
		if err == nil {
			s.SyncArtistPage(ctx, pass, page)
			return
		}
		logSnapshotFallback(types.ScopeArtists, 0, err)
	}

	for page := 1; ; {
		if ctx.Err() != nil {
			pass.RecordFailure(types.KindArtist)
			return
		}
		res, err := s.api.ListArtists(ctx, types.ListParams{Page: page, PerPage: s.pageSize})
		if err != nil {
			pass.RecordFailure(types.KindArtist)
			slog.Warn("artist page fetch failed",
				"component", "syncer",
				"action", "list_artists",
				"scope", types.ScopeArtists,
				"page", page,
				"error", err,
			)
			return
		}
		s.SyncArtistPage(ctx, pass, res)
		next, more := types.NextPage(page, res.CurrentPage, res.TotalPages)
		if !more {
			return
		}
		page = next
	}
}

// SyncArtistPage upserts every artist of one page.
func (s *Syncer) SyncArtistPage(ctx context.Context, pass *PassContext, page *types.ArtistPage) {
	if page == nil || page.TotalEntries == 0 {
		return
	}
	m := mapper.Artist{}
	for _, a := range page.Artists {
		if err := validation.ValidateArtist(a); err != nil {
			pass.RecordFailure(types.KindArtist)
			slog.Warn("artist rejected",
				"component", "syncer",
				"action", "validate",
				"remote_id", a.ID,
				"error", err,
			)
			continue
		}
		id, created, err := upsert[types.RemoteArtist](ctx, s.store, m, a, "")
		if err != nil {
			pass.RecordFailure(types.KindArtist)
			slog.Warn("artist upsert failed",
				"component", "syncer",
				"action", "upsert",
				"remote_id", a.ID,
				"error", err,
			)
			continue
		}
		s.attach(ctx, a.AvatarImage, id)
		pass.MarkSeen(types.KindArtist, id)
		pass.recordSynced()
		slog.Debug("artist synced",
			"component", "syncer",
			"action", "upsert",
			"remote_id", a.ID,
			"record_id", id,
			"created", created,
		)
	}
}

// ArtistIDs returns the remote ids of every locally known artist.
func (s *Syncer) ArtistIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.store.RecordIDs(ctx, types.KindArtist)
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		v, err := s.store.GetMeta(ctx, id, mapper.MetaArtistID)
		if err != nil {
			return nil, err
		}
		remote, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, remote)
	}
	return out, nil
}

// --- Offers ---

// SyncArtistOffers syncs every offer of one artist, from its prefetch
// snapshot when requested and present, otherwise from the live listing.
func (s *Syncer) SyncArtistOffers(ctx context.Context, pass *PassContext, artistID int64, prefetch bool) {
	if prefetch && s.snapshots != nil {
		pages, err := s.snapshots.Offers(ctx, artistID)
		if err == nil {
			for i := range pages {
				s.SyncOfferPage(ctx, pass, &pages[i])
			}
			return
		}
		logSnapshotFallback(types.ScopeOffers, artistID, err)
	}

	for page := 1; ; {
		if ctx.Err() != nil {
			pass.RecordFailure(types.KindOffer)
			return
		}
		res, err := s.api.ListOffers(ctx, types.ListParams{Page: page, PerPage: s.pageSize, ArtistID: artistID})
		if err != nil {
			pass.RecordFailure(types.KindOffer)
			slog.Warn("offer page fetch failed",
				"component", "syncer",
				"action", "list_offers",
				"scope", types.ScopeOffers,
				"artist_id", artistID,
				"page", page,
				"error", err,
			)
			return
		}
		s.SyncOfferPage(ctx, pass, res)
		next, more := types.NextPage(page, res.CurrentPage, res.TotalPages)
		if !more {
			return
		}
		page = next
	}
}

// SyncOfferPage upserts every offer of one page.
func (s *Syncer) SyncOfferPage(ctx context.Context, pass *PassContext, page *types.OfferPage) {
	if page == nil || page.TotalEntries == 0 {
		return
	}
	for _, o := range page.Offers {
		if _, err := s.syncOffer(ctx, pass, o); err != nil {
			pass.RecordFailure(types.KindOffer)
			slog.Warn("offer upsert failed",
				"component", "syncer",
				"action", "upsert",
				"remote_id", o.ID,
				"error", err,
			)
		}
	}
}

func (s *Syncer) syncOffer(ctx context.Context, pass *PassContext, o types.RemoteOffer) (string, error) {
	if err := validation.ValidateOffer(o); err != nil {
		return "", fmt.Errorf("offer %d: %w", o.ID, err)
	}
	id, created, err := upsert[types.RemoteOffer](ctx, s.store, mapper.Offer{}, o, "")
	if err != nil {
		return "", err
	}

	tags := mapper.Tags(o)
	if err := s.store.SetRecordTerms(ctx, id, types.TagTaxonomy, tags); err != nil {
		return "", fmt.Errorf("set tags of offer %d: %w", o.ID, err)
	}
	s.attach(ctx, o.PosterImage, id)

	pass.MarkSeen(types.KindOffer, id)
	pass.AddTags(tags...)
	pass.recordSynced()
	slog.Debug("offer synced",
		"component", "syncer",
		"action", "upsert",
		"remote_id", o.ID,
		"record_id", id,
		"created", created,
	)
	return id, nil
}

// SyncOffer refreshes one local offer from the remote API.
func (s *Syncer) SyncOffer(ctx context.Context, offerID string) error {
	remote, err := s.remoteOfferID(ctx, offerID)
	if err != nil {
		return err
	}
	o, err := s.api.GetOffer(ctx, remote)
	if err != nil {
		return err
	}
	_, err = s.syncOffer(ctx, NewPassContext(types.ScopeOffers), *o)
	return err
}

func (s *Syncer) remoteOfferID(ctx context.Context, offerID string) (int64, error) {
	rec, err := s.store.GetRecord(ctx, offerID)
	if err != nil {
		return 0, fmt.Errorf("offer %s: %w", offerID, err)
	}
	if rec.Kind != types.KindOffer {
		return 0, fmt.Errorf("record %s is a %s: %w", offerID, rec.Kind, store.ErrNotFound)
	}
	v, err := s.store.GetMeta(ctx, offerID, mapper.MetaOfferID)
	if err != nil {
		return 0, err
	}
	remote, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("offer %s has no remote id: %w", offerID, store.ErrNotFound)
	}
	return remote, nil
}

// OfferIDs returns the local id of every offer.
func (s *Syncer) OfferIDs(ctx context.Context) ([]string, error) {
	return s.store.RecordIDs(ctx, types.KindOffer)
}

// --- Products ---

// SyncProduct refreshes the stock state and SKU children of one offer.
//
// Digital and ticket offers are always in stock and never queried. Other
// offers query the order API with the campaign id of their mobile URL; when
// the call succeeds with SKUs, the offer's products are deleted and one
// product is recreated per SKU. When the linkage is missing or the call
// fails, the offer is marked out of stock and its products are kept. A local
// store failure is recorded on the pass and leaves the stock state as it was.
func (s *Syncer) SyncProduct(ctx context.Context, pass *PassContext, offerID string) (bool, error) {
	if pass == nil {
		pass = NewPassContext(types.ScopeProducts)
	}
	rec, err := s.store.GetRecord(ctx, offerID)
	if err != nil {
		pass.RecordFailure(types.KindProduct)
		return false, fmt.Errorf("offer %s: %w", offerID, err)
	}
	if rec.Kind != types.KindOffer {
		pass.RecordFailure(types.KindProduct)
		return false, fmt.Errorf("record %s is a %s: %w", offerID, rec.Kind, store.ErrNotFound)
	}
	md, err := s.store.AllMeta(ctx, offerID)
	if err != nil {
		pass.RecordFailure(types.KindProduct)
		return false, fmt.Errorf("metadata of offer %s: %w", offerID, err)
	}

	inStock, replaced, syncErr := s.syncSkus(ctx, pass, offerID, md)
	if errors.Is(syncErr, errProductStore) {
		// Stock is left as it was; the products may be half replaced.
		pass.RecordFailure(types.KindProduct)
		slog.Warn("product store write failed",
			"component", "syncer",
			"action", "sync_product",
			"record_id", offerID,
			"error", syncErr,
		)
		return false, syncErr
	}

	if !replaced {
		children, err := s.store.ChildIDs(ctx, offerID, types.KindProduct)
		if err != nil {
			pass.RecordFailure(types.KindProduct)
			return false, fmt.Errorf("products of offer %s: %w", offerID, err)
		}
		for _, id := range children {
			pass.MarkSeen(types.KindProduct, id)
		}
	}

	if err := s.store.SetMeta(ctx, offerID, mapper.MetaInStock, strconv.FormatBool(inStock)); err != nil {
		pass.RecordFailure(types.KindProduct)
		return false, fmt.Errorf("write stock of offer %s: %w", offerID, err)
	}
	return inStock, syncErr
}

// syncSkus returns the derived stock state and whether children were replaced.
func (s *Syncer) syncSkus(ctx context.Context, pass *PassContext, offerID string, md types.Metadata) (bool, bool, error) {
	if mapper.IsAlwaysInStock(md[mapper.MetaProductType]) {
		return true, false, nil
	}

	campaignID := topspin.CampaignIDFromMobileURL(md[mapper.MetaMobileURL])
	if campaignID == "" {
		slog.Warn("offer has no campaign linkage",
			"component", "syncer",
			"action", "sync_product",
			"record_id", offerID,
			"offer_id", md[mapper.MetaOfferID],
		)
		return false, false, ErrLinkageMissing
	}

	resp, err := s.api.GetSkus(ctx, campaignID)
	if err == nil && !resp.OK() {
		err = fmt.Errorf("order api status %q", resp.Status)
	}
	if err != nil {
		pass.RecordFailure(types.KindProduct)
		slog.Warn("sku fetch failed",
			"component", "syncer",
			"action", "get_skus",
			"record_id", offerID,
			"campaign_id", campaignID,
			"error", err,
		)
		return false, false, err
	}
	if len(resp.Response.Skus) == 0 {
		return false, false, nil
	}

	children, err := s.store.ChildIDs(ctx, offerID, types.KindProduct)
	if err != nil {
		return false, false, fmt.Errorf("%w: list products of offer %s: %w", errProductStore, offerID, err)
	}
	if _, err := s.store.DeleteRecords(ctx, children); err != nil {
		return false, false, fmt.Errorf("%w: delete products of offer %s: %w", errProductStore, offerID, err)
	}

	inStock := false
	for _, sku := range resp.Response.Skus {
		if sku.Available {
			inStock = true
		}
		id, _, err := upsert[types.RemoteSku](ctx, s.store, mapper.Sku{}, sku, offerID)
		if err != nil {
			pass.RecordFailure(types.KindProduct)
			slog.Warn("product upsert failed",
				"component", "syncer",
				"action", "upsert",
				"record_id", offerID,
				"remote_id", sku.ID,
				"error", err,
			)
			continue
		}
		pass.MarkSeen(types.KindProduct, id)
		pass.recordSynced()
	}
	return inStock, true, nil
}

func logSnapshotFallback(scope types.Scope, artistID int64, err error) {
	level := slog.LevelWarn
	if errors.Is(err, prefetch.ErrSnapshotMissing) {
		level = slog.LevelDebug
	}
	slog.Log(context.Background(), level, "prefetch snapshot unavailable, using live listing",
		"component", "syncer",
		"action", "prefetch_fallback",
		"scope", scope,
		"artist_id", artistID,
		"error", err,
	)
}

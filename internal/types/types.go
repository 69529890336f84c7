package types

import (
	"time"
)

// Scope names one of the three independently gated sync domains.
type Scope string

const (
	ScopeArtists  Scope = "artists"
	ScopeOffers   Scope = "offers"
	ScopeProducts Scope = "products"
)

// Scopes lists every scope in dependency order.
var Scopes = []Scope{ScopeArtists, ScopeOffers, ScopeProducts}

// ParseScope validates a scope name.
func ParseScope(s string) (Scope, bool) {
	for _, sc := range Scopes {
		if string(sc) == s {
			return sc, true
		}
	}
	return "", false
}

// Kind identifies the type of a local record.
type Kind string

const (
	KindArtist  Kind = "spin-artist"
	KindOffer   Kind = "spin-offer"
	KindProduct Kind = "spin-product"
)

// TagTaxonomy is the taxonomy holding offer tags.
const TagTaxonomy = "spin-tags"

// StatusPublish is the status given to every synced record.
const StatusPublish = "publish"

// --- Remote entities ---

// RemoteArtist is an artist as reported by the artist API.
type RemoteArtist struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	AvatarImage string `json:"avatar_image,omitempty"`
	URL         string `json:"url,omitempty"`
	Website     string `json:"website,omitempty"`
}

// RemoteOffer is a sellable offer as reported by the store API.
type RemoteOffer struct {
	ID                int64    `json:"id"`
	ArtistID          int64    `json:"artist_id"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	OfferType         string   `json:"offer_type,omitempty"`
	ProductType       string   `json:"product_type,omitempty"`
	Price             float64  `json:"price,omitempty"`
	Currency          string   `json:"currency,omitempty"`
	OfferURL          string   `json:"offer_url,omitempty"`
	MobileURL         string   `json:"mobile_url,omitempty"`
	PosterImage       string   `json:"poster_image,omitempty"`
	PosterImageSource string   `json:"poster_image_source,omitempty"`
	EmbedCode         string   `json:"embed_code,omitempty"`
	Width             int      `json:"width,omitempty"`
	Height            int      `json:"height,omitempty"`
	Tags              []string `json:"tags,omitempty"`
}

// RemoteSku is a purchasable variant of an offer, as reported by the order API.
type RemoteSku struct {
	ID          int64             `json:"id"`
	Available   bool              `json:"available"`
	CampaignID  int64             `json:"campaign_id,omitempty"`
	Name        string            `json:"name,omitempty"`
	ProductType string            `json:"product_type,omitempty"`
	Weight      string            `json:"weight,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// ArtistPage is one page of the artist listing.
type ArtistPage struct {
	TotalEntries int            `json:"total_entries"`
	CurrentPage  int            `json:"current_page"`
	TotalPages   int            `json:"total_pages"`
	PerPage      int            `json:"per_page,omitempty"`
	Artists      []RemoteArtist `json:"artists"`
}

// OfferPage is one page of the offer listing.
type OfferPage struct {
	TotalEntries int           `json:"total_entries"`
	CurrentPage  int           `json:"current_page"`
	TotalPages   int           `json:"total_pages"`
	PerPage      int           `json:"per_page,omitempty"`
	Offers       []RemoteOffer `json:"offers"`
}

// NextPage returns the page to request after requested, or false once the
// listing is exhausted. The next page follows the reported current_page, but
// never falls behind the requested one, so a listing whose current_page does
// not advance still ends at total_pages.
func NextPage(requested, current, total int) (int, bool) {
	if current >= total || requested >= total {
		return 0, false
	}
	return max(requested, current) + 1, true
}

// SkuResponse is the order API envelope around a SKU listing.
type SkuResponse struct {
	Status   string `json:"status"`
	Response struct {
		Skus []RemoteSku `json:"skus"`
	} `json:"response"`
}

// OK reports whether the order API accepted the request.
func (r *SkuResponse) OK() bool {
	return r != nil && r.Status == "ok"
}

// ListParams selects one page of a remote listing.
type ListParams struct {
	Page     int
	PerPage  int
	ArtistID int64 // offers only; zero means all artists
}

// --- Local records ---

// Record is a locally materialized copy of a remote entity.
type Record struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	ParentID  string    `json:"parent_id,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordFields are the mutable columns of a Record.
type RecordFields struct {
	Kind     Kind
	ParentID string
	Title    string
	Body     string
	Status   string
}

// Metadata is the key/value set attached to a Record.
type Metadata map[string]string

// LookupKey locates the Record that mirrors a remote entity.
type LookupKey struct {
	Kind    Kind
	MetaKey string
	Value   string
}

// Term is a taxonomy label.
type Term struct {
	ID       string `json:"id"`
	Taxonomy string `json:"taxonomy"`
	Name     string `json:"name"`
}

// Attachment is a binary asset owned by a Record.
type Attachment struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Path      string    `json:"path"`
	SourceURL string    `json:"source_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// --- Pass results ---

// PassResult summarizes one coordinator pass.
type PassResult struct {
	Scope      Scope         `json:"scope"`
	Skipped    bool          `json:"skipped"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Synced     int           `json:"synced"`
	Failed     int           `json:"failed"`
	Purged     int           `json:"purged"`
	TermsPurge int           `json:"terms_purged"`
	Partial    bool          `json:"partial"`
	Duration   time.Duration `json:"duration_ns"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// ScopeStatus describes the persisted state of a scope.
type ScopeStatus struct {
	Scope      Scope  `json:"scope"`
	Syncing    bool   `json:"syncing"`
	LastSynced int64  `json:"last_synced"`
	LastHuman  string `json:"last_synced_human"`
}

// --- Admin API ---

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// StatusResponse is the body of GET /api/v1/sync.
type StatusResponse struct {
	Scopes []ScopeStatus `json:"scopes"`
}

// TriggerResponse is the body of POST /api/v1/sync/{scope}.
type TriggerResponse struct {
	Scope    Scope       `json:"scope"`
	Accepted bool        `json:"accepted"`
	Result   *PassResult `json:"result,omitempty"`
}

// OfferSyncResponse is the body of POST /api/v1/offers/{id}/sync.
type OfferSyncResponse struct {
	OfferID string `json:"offer_id"`
	Synced  bool   `json:"synced"`
}

// ProductSyncResponse is the body of POST /api/v1/offers/{id}/products/sync.
type ProductSyncResponse struct {
	OfferID string `json:"offer_id"`
	InStock bool   `json:"in_stock"`
	Warning string `json:"warning,omitempty"`
}

// PurgeResponse is the body of DELETE /api/v1/prefetch.
type PurgeResponse struct {
	Deleted int `json:"deleted"`
}

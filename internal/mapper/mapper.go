// Package mapper converts remote catalog entities into local record fields,
// metadata and lookup keys. Every function here is pure.
package mapper

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperengineering/spinsync/internal/types"
)

// Metadata keys written for synced records.
const (
	MetaArtistID     = "topspin_artist_id"
	MetaArtistName   = "topspin_artist_name"
	MetaAvatarImage  = "topspin_artist_avatar_image"
	MetaArtistURL    = "topspin_artist_url"
	MetaWebsite      = "topspin_artist_website"
	MetaOfferID      = "topspin_offer_id"
	MetaOfferType    = "topspin_offer_type"
	MetaProductType  = "topspin_product_type"
	MetaPrice        = "topspin_price"
	MetaCurrency     = "topspin_currency"
	MetaOfferURL     = "topspin_offer_url"
	MetaMobileURL    = "topspin_mobile_url"
	MetaPosterImage  = "topspin_poster_image"
	MetaPosterSource = "topspin_poster_image_source"
	MetaEmbedCode    = "topspin_embed_code"
	MetaWidth        = "topspin_width"
	MetaHeight       = "topspin_height"
	MetaTags         = "topspin_tags"
	MetaInStock      = "topspin_offer_in_stock"
	MetaSkuID        = "topspin_sku_id"
	MetaSkuAvailable = "topspin_sku_available"
	MetaCampaignID   = "topspin_campaign_id"
	MetaSkuWeight    = "topspin_sku_weight"
	MetaSkuAttrs     = "topspin_sku_attributes"
)

// Mapper maps one remote entity type onto local records.
type Mapper[T any] interface {
	Kind() types.Kind
	Key(entity T) types.LookupKey
	Fields(entity T) types.RecordFields
	Metadata(entity T) types.Metadata
}

// Artist maps artists.
type Artist struct{}

// Offer maps offers.
type Offer struct{}

// Sku maps SKUs onto product records.
type Sku struct{}

var (
	_ Mapper[types.RemoteArtist] = Artist{}
	_ Mapper[types.RemoteOffer]  = Offer{}
	_ Mapper[types.RemoteSku]    = Sku{}
)

// Kind returns the artist record kind.
func (Artist) Kind() types.Kind { return types.KindArtist }

// Key looks an artist up by its remote id.
func (m Artist) Key(a types.RemoteArtist) types.LookupKey {
	return types.LookupKey{Kind: m.Kind(), MetaKey: MetaArtistID, Value: formatID(a.ID)}
}

// Fields maps an artist onto a published top-level record.
func (m Artist) Fields(a types.RemoteArtist) types.RecordFields {
	return types.RecordFields{
		Kind:   m.Kind(),
		Title:  a.Name,
		Body:   a.Description,
		Status: types.StatusPublish,
	}
}

// Metadata returns the remote fields stored alongside an artist.
func (Artist) Metadata(a types.RemoteArtist) types.Metadata {
	return types.Metadata{
		MetaArtistID:    formatID(a.ID),
		MetaArtistName:  a.Name,
		MetaAvatarImage: a.AvatarImage,
		MetaArtistURL:   a.URL,
		MetaWebsite:     a.Website,
	}
}

// Kind returns the offer record kind.
func (Offer) Kind() types.Kind { return types.KindOffer }

// Key looks an offer up by its remote id.
func (m Offer) Key(o types.RemoteOffer) types.LookupKey {
	return types.LookupKey{Kind: m.Kind(), MetaKey: MetaOfferID, Value: formatID(o.ID)}
}

// Fields maps an offer onto its record.
func (m Offer) Fields(o types.RemoteOffer) types.RecordFields {
	return types.RecordFields{
		Kind:   m.Kind(),
		Title:  o.Name,
		Body:   o.Description,
		Status: types.StatusPublish,
	}
}

// Metadata returns the remote fields stored alongside an offer.
func (Offer) Metadata(o types.RemoteOffer) types.Metadata {
	return types.Metadata{
		MetaOfferID:      formatID(o.ID),
		MetaArtistID:     formatID(o.ArtistID),
		MetaOfferType:    o.OfferType,
		MetaProductType:  o.ProductType,
		MetaPrice:        strconv.FormatFloat(o.Price, 'f', 2, 64),
		MetaCurrency:     o.Currency,
		MetaOfferURL:     o.OfferURL,
		MetaMobileURL:    o.MobileURL,
		MetaPosterImage:  o.PosterImage,
		MetaPosterSource: o.PosterImageSource,
		MetaEmbedCode:    o.EmbedCode,
		MetaWidth:        strconv.Itoa(o.Width),
		MetaHeight:       strconv.Itoa(o.Height),
		MetaTags:         strings.Join(Tags(o), ","),
	}
}

// Tags returns the offer's tags trimmed, de-duplicated and sorted.
func Tags(o types.RemoteOffer) []string {
	seen := make(map[string]struct{}, len(o.Tags))
	out := make([]string, 0, len(o.Tags))
	for _, t := range o.Tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Kind returns the product record kind.
func (Sku) Kind() types.Kind { return types.KindProduct }

// Key looks a product up by its SKU id.
func (m Sku) Key(s types.RemoteSku) types.LookupKey {
	return types.LookupKey{Kind: m.Kind(), MetaKey: MetaSkuID, Value: formatID(s.ID)}
}

// Fields maps a SKU onto a product record. The caller sets the parent.
func (m Sku) Fields(s types.RemoteSku) types.RecordFields {
	title := s.Name
	if title == "" {
		title = "SKU " + formatID(s.ID)
	}
	return types.RecordFields{
		Kind:   m.Kind(),
		Title:  title,
		Status: types.StatusPublish,
	}
}

// Metadata returns the SKU fields stored alongside a product.
func (Sku) Metadata(s types.RemoteSku) types.Metadata {
	md := types.Metadata{
		MetaSkuID:        formatID(s.ID),
		MetaSkuAvailable: strconv.FormatBool(s.Available),
		MetaCampaignID:   formatID(s.CampaignID),
		MetaProductType:  s.ProductType,
		MetaSkuWeight:    s.Weight,
		MetaSkuAttrs:     "{}",
	}
	if len(s.Attributes) > 0 {
		// encoding/json sorts map keys, so the output is stable.
		if b, err := json.Marshal(s.Attributes); err == nil {
			md[MetaSkuAttrs] = string(b)
		}
	}
	return md
}

// IsAlwaysInStock reports whether a product type never needs a SKU lookup.
func IsAlwaysInStock(productType string) bool {
	switch productType {
	case "digital_package", "ticket":
		return true
	}
	return false
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

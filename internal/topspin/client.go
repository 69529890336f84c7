// Package topspin is the HTTP client for the remote catalog API: the artist
// listing, the store (offers) API and the order (SKU) API.
package topspin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hyperengineering/spinsync/internal/types"
)

// ErrUnexpectedStatus is returned when the API answers with a non-2xx status.
var ErrUnexpectedStatus = errors.New("unexpected status")

const (
	artistsPath = "/api/v1/artist"
	offersPath  = "/api/v1/offers"
	skusPath    = "/api/v2/order/skus"
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	User      string
	Key       string
	RateLimit float64 // requests per second; zero disables throttling
	RateBurst int
	Timeout   time.Duration
}

// Client talks to the remote catalog API.
type Client struct {
	baseURL    string
	user       string
	key        string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.RateBurst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		user:       opts.User,
		key:        opts.Key,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

// ListArtists fetches one page of the artist listing.
func (c *Client) ListArtists(ctx context.Context, p types.ListParams) (*types.ArtistPage, error) {
	var page types.ArtistPage
	if err := c.get(ctx, artistsPath, pageQuery(p), &page); err != nil {
		return nil, fmt.Errorf("list artists page %d: %w", p.Page, err)
	}
	return &page, nil
}

// ListOffers fetches one page of the offer listing, optionally for one artist.
func (c *Client) ListOffers(ctx context.Context, p types.ListParams) (*types.OfferPage, error) {
	q := pageQuery(p)
	if p.ArtistID != 0 {
		q.Set("artist_id", strconv.FormatInt(p.ArtistID, 10))
	}

	var page types.OfferPage
	if err := c.get(ctx, offersPath, q, &page); err != nil {
		return nil, fmt.Errorf("list offers page %d: %w", p.Page, err)
	}
	return &page, nil
}

// GetOffer fetches a single offer by remote id.
func (c *Client) GetOffer(ctx context.Context, id int64) (*types.RemoteOffer, error) {
	var offer types.RemoteOffer
	if err := c.get(ctx, offersPath+"/"+strconv.FormatInt(id, 10), nil, &offer); err != nil {
		return nil, fmt.Errorf("get offer %d: %w", id, err)
	}
	return &offer, nil
}

// GetSkus fetches the SKU listing of a campaign from the order API.
func (c *Client) GetSkus(ctx context.Context, campaignID string) (*types.SkuResponse, error) {
	q := url.Values{}
	q.Set("campaign_id", campaignID)

	var resp types.SkuResponse
	if err := c.get(ctx, skusPath, q, &resp); err != nil {
		return nil, fmt.Errorf("get skus for campaign %s: %w", campaignID, err)
	}
	return &resp, nil
}

// Verify checks that the configured credentials are accepted.
func (c *Client) Verify(ctx context.Context) error {
	_, err := c.ListArtists(ctx, types.ListParams{Page: 1, PerPage: 1})
	return err
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.user, c.key)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: %s", ErrUnexpectedStatus, resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func pageQuery(p types.ListParams) url.Values {
	q := url.Values{}
	page := p.Page
	if page < 1 {
		page = 1
	}
	q.Set("page", strconv.Itoa(page))
	if p.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(p.PerPage))
	}
	return q
}

// CampaignIDFromMobileURL derives the order API campaign id of an offer from
// its mobile store URL: the campaign_id query parameter when present,
// otherwise the last all-digit path segment. It returns "" when neither exists.
func CampaignIDFromMobileURL(mobileURL string) string {
	if strings.TrimSpace(mobileURL) == "" {
		return ""
	}
	u, err := url.Parse(mobileURL)
	if err != nil {
		return ""
	}
	if id := u.Query().Get("campaign_id"); id != "" {
		return id
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if isDigits(segments[i]) {
			return segments[i]
		}
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

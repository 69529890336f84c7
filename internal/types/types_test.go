package types

import (
	"encoding/json"
	"testing"
)

func TestParseScope(t *testing.T) {
	tests := []struct {
		in   string
		want Scope
		ok   bool
	}{
		{"artists", ScopeArtists, true},
		{"offers", ScopeOffers, true},
		{"products", ScopeProducts, true},
		{"Artists", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseScope(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseScope(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestOfferPage_DecodesAPIShape(t *testing.T) {
	raw := `{
		"total_entries": 2,
		"current_page": 1,
		"total_pages": 1,
		"offers": [
			{"id": 10, "artist_id": 3, "name": "Vinyl", "product_type": "package",
			 "mobile_url": "http://m.example.com/store/offer/55", "tags": ["vinyl","lp"]},
			{"id": 11, "artist_id": 3, "name": "MP3", "product_type": "digital_package"}
		]
	}`

	var page OfferPage
	if err := json.Unmarshal([]byte(raw), &page); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if page.TotalEntries != 2 || len(page.Offers) != 2 {
		t.Fatalf("got %d entries / %d offers, want 2/2", page.TotalEntries, len(page.Offers))
	}
	if page.Offers[0].MobileURL == "" || len(page.Offers[0].Tags) != 2 {
		t.Errorf("offer 0 not fully decoded: %+v", page.Offers[0])
	}
}

func TestSkuResponse_OK(t *testing.T) {
	var nilResp *SkuResponse
	if nilResp.OK() {
		t.Error("nil response should not be OK")
	}

	var resp SkuResponse
	if err := json.Unmarshal([]byte(`{"status":"ok","response":{"skus":[{"id":1,"available":true}]}}`), &resp); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !resp.OK() {
		t.Error("status ok should be OK")
	}
	if len(resp.Response.Skus) != 1 || !resp.Response.Skus[0].Available {
		t.Errorf("skus = %+v", resp.Response.Skus)
	}

	resp.Status = "error"
	if resp.OK() {
		t.Error("status error should not be OK")
	}
}

func TestNextPage(t *testing.T) {
	tests := []struct {
		name                     string
		requested, current, total int
		want                     int
		more                     bool
	}{
		{"first of three", 1, 1, 3, 2, true},
		{"last page", 3, 3, 3, 0, false},
		{"single page", 1, 1, 1, 0, false},
		{"empty listing", 1, 0, 0, 0, false},
		{"current stuck at zero", 1, 0, 2, 2, true},
		{"current stuck ends at total", 2, 0, 2, 0, false},
		{"current ahead of requested", 1, 2, 4, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, more := NextPage(tt.requested, tt.current, tt.total)
			if got != tt.want || more != tt.more {
				t.Errorf("NextPage(%d, %d, %d) = (%d, %v), want (%d, %v)",
					tt.requested, tt.current, tt.total, got, more, tt.want, tt.more)
			}
		})
	}
}

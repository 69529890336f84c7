package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperengineering/spinsync/internal/coordinator"
	"github.com/hyperengineering/spinsync/internal/store"
	"github.com/hyperengineering/spinsync/internal/topspin"
)

func TestProblem_JSONSerialization(t *testing.T) {
	p := Problem{
		Type:     "https://spinsync.dev/errors/unauthorized",
		Title:    "Unauthorized",
		Status:   401,
		Detail:   "Missing or invalid API key",
		Instance: "/api/v1/sync",
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("failed to marshal Problem: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal Problem JSON: %v", err)
	}

	// Verify all RFC 7807 fields present
	for field, want := range map[string]interface{}{
		"type":     "https://spinsync.dev/errors/unauthorized",
		"title":    "Unauthorized",
		"status":   float64(401),
		"detail":   "Missing or invalid API key",
		"instance": "/api/v1/sync",
	} {
		if decoded[field] != want {
			t.Errorf("%s = %v, want %v", field, decoded[field], want)
		}
	}
}

func TestWriteProblem_ContentTypeAndStatus(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/sync", nil)

	WriteProblem(w, r, http.StatusUnauthorized, "Missing or invalid API key")

	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %v, want application/problem+json", ct)
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("failed to unmarshal response body: %v", err)
	}
	if p.Instance != "/api/v1/sync" {
		t.Errorf("instance = %v, want /api/v1/sync", p.Instance)
	}
}

func TestWriteProblem_TypeURIs(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusNotFound, "https://spinsync.dev/errors/not-found"},
		{http.StatusConflict, "https://spinsync.dev/errors/conflict"},
		{http.StatusBadGateway, "https://spinsync.dev/errors/upstream-error"},
		{http.StatusServiceUnavailable, "https://spinsync.dev/errors/service-unavailable"},
		{http.StatusTooManyRequests, "https://spinsync.dev/errors/rate-limit"},
		{http.StatusTeapot, "https://spinsync.dev/errors/unknown"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteProblem(w, httptest.NewRequest(http.MethodGet, "/x", nil), tt.status, "detail")

			var p Problem
			if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
				t.Fatalf("failed to unmarshal: %v", err)
			}
			if p.Type != tt.want {
				t.Errorf("type = %v, want %v", p.Type, tt.want)
			}
		})
	}
}

func TestMapSyncError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("offer x: %w", store.ErrNotFound), http.StatusNotFound},
		{"busy", fmt.Errorf("%w: offers", coordinator.ErrScopeBusy), http.StatusConflict},
		{"upstream", fmt.Errorf("get offer: %w: 500", topspin.ErrUnexpectedStatus), http.StatusBadGateway},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			MapSyncError(w, httptest.NewRequest(http.MethodPost, "/api/v1/sync/offers", nil), tt.err)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			var p Problem
			if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
				t.Fatalf("failed to unmarshal: %v", err)
			}
			if p.Detail == tt.err.Error() {
				t.Error("internal error text leaked into the response")
			}
		})
	}
}

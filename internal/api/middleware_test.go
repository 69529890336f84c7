package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperengineering/spinsync/internal/types"
)

const testAPIKey = "test-secret-key-12345"

// captureLogs routes the default logger to a JSON buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(old) })
	return &buf
}

// logEntries decodes every captured record with the given message.
func logEntries(t *testing.T, buf *bytes.Buffer, msg string) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("log line is not JSON: %q", sc.Text())
		}
		if entry["msg"] == msg {
			out = append(out, entry)
		}
	}
	return out
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"Bearer  padded ", "padded"},
		{"bearer abc", ""},
		{"Basic dXNlcjpwYXNz", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := extractBearerToken(req); got != tt.want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestAuth_TriggerRoutes(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid key", "Bearer " + testAPIKey, http.StatusOK},
		{"wrong key", "Bearer not-the-key", http.StatusUnauthorized},
		{"key prefix", "Bearer " + testAPIKey[:5], http.StatusUnauthorized},
		{"lowercase scheme", "bearer " + testAPIKey, http.StatusUnauthorized},
		{"no header", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := captureLogs(t)
			c := &mockCoordinator{}
			router, _ := newTestRouter(c, mockPinger{})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/artists?wait=true", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if strings.Contains(w.Body.String(), testAPIKey) || strings.Contains(logs.String(), testAPIKey) {
				t.Error("API key leaked into the response or logs")
			}
			if tt.want == http.StatusOK {
				if calls := c.callList(); len(calls) != 1 || calls[0] != "artists" {
					t.Errorf("coordinator calls = %v, want [artists]", calls)
				}
				return
			}

			if calls := c.callList(); len(calls) != 0 {
				t.Errorf("rejected request reached the coordinator: %v", calls)
			}
			var p Problem
			if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
				t.Fatalf("decode problem: %v", err)
			}
			if p.Type != "https://spinsync.dev/errors/unauthorized" || p.Instance != "/api/v1/sync/artists" {
				t.Errorf("problem = %+v", p)
			}
			failures := logEntries(t, logs, "auth failure")
			if len(failures) != 1 || failures[0]["component"] != "api" {
				t.Errorf("auth failure log = %v", failures)
			}
		})
	}
}

func TestAuth_CancelAndPrefetchRoutes(t *testing.T) {
	c := &mockCoordinator{running: map[types.Scope]bool{types.ScopeOffers: true}, purged: 2}
	router, _ := newTestRouter(c, mockPinger{})

	if w := do(t, router, http.MethodDelete, "/api/v1/sync/offers", false); w.Code != http.StatusUnauthorized {
		t.Errorf("cancel without key = %d, want 401", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/api/v1/prefetch", false); w.Code != http.StatusUnauthorized {
		t.Errorf("prefetch purge without key = %d, want 401", w.Code)
	}
	if len(c.cancelled) != 0 {
		t.Errorf("unauthenticated cancel reached the coordinator: %v", c.cancelled)
	}

	if w := do(t, router, http.MethodDelete, "/api/v1/sync/offers", true); w.Code != http.StatusNoContent {
		t.Errorf("cancel with key = %d, want 204", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/api/v1/prefetch", true); w.Code != http.StatusOK {
		t.Errorf("prefetch purge with key = %d, want 200", w.Code)
	}
}

func TestLogLevelForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   slog.Level
	}{
		{http.StatusOK, slog.LevelInfo},
		{http.StatusAccepted, slog.LevelInfo},
		{http.StatusNoContent, slog.LevelInfo},
		{http.StatusUnauthorized, slog.LevelWarn},
		{http.StatusConflict, slog.LevelWarn},
		{http.StatusTooManyRequests, slog.LevelWarn},
		{http.StatusBadGateway, slog.LevelError},
		{http.StatusServiceUnavailable, slog.LevelError},
	}
	for _, tt := range tests {
		if got := logLevelForStatus(tt.status); got != tt.want {
			t.Errorf("logLevelForStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestLoggingMiddleware_RequestLog(t *testing.T) {
	logs := captureLogs(t)
	router, _ := newTestRouter(&mockCoordinator{}, mockPinger{err: errors.New("database is locked")})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-Id", "req-42")
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	router.ServeHTTP(httptest.NewRecorder(), req)
	do(t, router, http.MethodGet, "/api/v1/sync", false)
	do(t, router, http.MethodGet, "/api/v1/sync", true)

	entries := logEntries(t, logs, "request completed")
	if len(entries) != 3 {
		t.Fatalf("request logs = %d, want 3", len(entries))
	}

	want := []struct {
		path   string
		status float64
		level  string
	}{
		{"/api/v1/health", http.StatusServiceUnavailable, "ERROR"},
		{"/api/v1/sync", http.StatusUnauthorized, "WARN"},
		{"/api/v1/sync", http.StatusOK, "INFO"},
	}
	for i, w := range want {
		e := entries[i]
		if e["component"] != "api" || e["path"] != w.path || e["status"] != w.status || e["level"] != w.level {
			t.Errorf("entry %d = %v, want %s %v at %s", i, e, w.path, w.status, w.level)
		}
		if id, _ := e["request_id"].(string); id == "" {
			t.Errorf("entry %d has no request_id", i)
		}
		if _, ok := e["duration_ms"]; !ok {
			t.Errorf("entry %d has no duration_ms", i)
		}
	}
	if entries[0]["request_id"] != "req-42" {
		t.Errorf("request_id = %v, want the inbound X-Request-Id", entries[0]["request_id"])
	}
	if strings.Contains(logs.String(), testAPIKey) {
		t.Error("Authorization header logged")
	}
}

func TestRecoveryMiddleware_Panic(t *testing.T) {
	logs := captureLogs(t)
	h := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil store")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sync/offers", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "nil store") {
		t.Error("panic value leaked into the response")
	}
	panics := logEntries(t, logs, "panic recovered")
	if len(panics) != 1 || panics[0]["error"] != "nil store" || panics[0]["component"] != "api" {
		t.Errorf("panic log = %v", panics)
	}
}

func TestTriggerRateLimiter_RetryAfter(t *testing.T) {
	logs := captureLogs(t)
	c := &mockCoordinator{running: map[types.Scope]bool{}}
	h := NewHandler(context.Background(), c, mockPinger{}, testAPIKey, "test")
	router := NewRouter(h, 1)

	// Rejected credentials never spend a token.
	if w := do(t, router, http.MethodPost, "/api/v1/offers/"+testOfferID+"/sync", false); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated trigger = %d, want 401", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/api/v1/offers/"+testOfferID+"/sync", true); w.Code != http.StatusOK {
		t.Fatalf("first trigger = %d, want 200", w.Code)
	}

	// The bucket is shared by every trigger route.
	w := do(t, router, http.MethodPost, "/api/v1/offers/"+testOfferID+"/products/sync", true)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second trigger = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	if p.Type != "https://spinsync.dev/errors/rate-limit" || p.Status != http.StatusTooManyRequests {
		t.Errorf("problem = %+v", p)
	}
	if limited := logEntries(t, logs, "trigger rate limited"); len(limited) != 1 || limited[0]["action"] != "rate_limited" {
		t.Errorf("rate limit log = %v", limited)
	}

	// Cancelling is never throttled.
	if w := do(t, router, http.MethodDelete, "/api/v1/sync/offers", true); w.Code != http.StatusNotFound {
		t.Errorf("cancel after limit = %d, want 404", w.Code)
	}
	if calls := c.callList(); len(calls) != 1 || calls[0] != "offer:"+testOfferID {
		t.Errorf("coordinator calls = %v", calls)
	}
}

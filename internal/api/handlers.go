package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/hyperengineering/spinsync/internal/types"
)

// Coordinator is the sync surface exposed over HTTP.
// Implemented by coordinator.Coordinator.
type Coordinator interface {
	SyncArtists(ctx context.Context, prefetch bool) (types.PassResult, error)
	SyncOffers(ctx context.Context, prefetch, force bool) (types.PassResult, error)
	SyncProducts(ctx context.Context, force bool) (types.PassResult, error)
	SyncOfferSingle(ctx context.Context, offerID string) error
	SyncProductSingle(ctx context.Context, offerID string) (bool, error)
	Cancel(scope types.Scope) bool
	Status(ctx context.Context) ([]types.ScopeStatus, error)
	PurgePrefetch(ctx context.Context) (int, error)
}

// Pinger reports whether the store is ready.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler implements the API handlers
type Handler struct {
	coord   Coordinator
	store   Pinger
	apiKey  string
	version string

	// baseCtx bounds passes started in the background; cancelling it
	// aborts them on shutdown.
	baseCtx context.Context
	running sync.WaitGroup
}

// NewHandler creates a new Handler. Background passes run under baseCtx.
func NewHandler(baseCtx context.Context, c Coordinator, s Pinger, apiKey, version string) *Handler {
	return &Handler{
		coord:   c,
		store:   s,
		apiKey:  apiKey,
		version: version,
		baseCtx: baseCtx,
	}
}

// Wait blocks until every background pass has returned.
func (h *Handler) Wait() {
	h.running.Wait()
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed",
			"component", "api",
			"action", "health",
			"error", err,
		)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Store not ready")
		return
	}

	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:  "healthy",
		Version: h.version,
	})
}

// PurgePrefetch handles DELETE /api/v1/prefetch
func (h *Handler) PurgePrefetch(w http.ResponseWriter, r *http.Request) {
	n, err := h.coord.PurgePrefetch(r.Context())
	if err != nil {
		slog.Error("prefetch purge failed",
			"component", "api",
			"action", "purge_prefetch",
			"error", err,
		)
		MapSyncError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.PurgeResponse{Deleted: n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

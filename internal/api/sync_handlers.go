package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/spinsync/internal/syncer"
	"github.com/hyperengineering/spinsync/internal/types"
	"github.com/hyperengineering/spinsync/internal/validation"
)

// triggerRequest holds the query flags of a sync trigger.
type triggerRequest struct {
	prefetch bool
	force    bool
	wait     bool
}

// SyncStatus handles GET /api/v1/sync
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	scopes, err := h.coord.Status(r.Context())
	if err != nil {
		slog.Error("status read failed", "component", "api", "action", "sync_status", "error", err)
		MapSyncError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.StatusResponse{Scopes: scopes})
}

// TriggerSync handles POST /api/v1/sync/{scope}
//
// With wait=true the pass runs within the request and its result is
// returned. Otherwise the pass starts in the background and 202 is returned.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	scope, _ := ScopeFromContext(r.Context())

	req, err := parseTriggerRequest(r)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if req.wait {
		res, err := h.runPass(r.Context(), scope, req)
		if err != nil {
			MapSyncError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, types.TriggerResponse{Scope: scope, Accepted: true, Result: &res})
		return
	}

	busy, err := h.scopeSyncing(r.Context(), scope)
	if err != nil {
		MapSyncError(w, r, err)
		return
	}
	if busy {
		WriteProblem(w, r, http.StatusConflict, "Sync already running for this scope")
		return
	}

	h.running.Add(1)
	go func() {
		defer h.running.Done()
		if _, err := h.runPass(h.baseCtx, scope, req); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("background sync failed",
				"component", "api",
				"action", "trigger_sync",
				"scope", scope,
				"error", err,
			)
		}
	}()

	slog.Info("sync triggered",
		"component", "api",
		"action", "trigger_sync",
		"scope", scope,
		"prefetch", req.prefetch,
		"force", req.force,
	)
	writeJSON(w, http.StatusAccepted, types.TriggerResponse{Scope: scope, Accepted: true})
}

// CancelSync handles DELETE /api/v1/sync/{scope}
func (h *Handler) CancelSync(w http.ResponseWriter, r *http.Request) {
	scope, _ := ScopeFromContext(r.Context())
	if !h.coord.Cancel(scope) {
		WriteProblem(w, r, http.StatusNotFound, "No running sync for this scope")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncOffer handles POST /api/v1/offers/{id}/sync
func (h *Handler) SyncOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := offerIDParam(w, r)
	if !ok {
		return
	}
	if err := h.coord.SyncOfferSingle(r.Context(), id); err != nil {
		slog.Warn("offer sync failed",
			"component", "api",
			"action", "sync_offer",
			"record_id", id,
			"error", err,
		)
		MapSyncError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.OfferSyncResponse{OfferID: id, Synced: true})
}

// SyncOfferProducts handles POST /api/v1/offers/{id}/products/sync
func (h *Handler) SyncOfferProducts(w http.ResponseWriter, r *http.Request) {
	id, ok := offerIDParam(w, r)
	if !ok {
		return
	}
	inStock, err := h.coord.SyncProductSingle(r.Context(), id)
	resp := types.ProductSyncResponse{OfferID: id, InStock: inStock}
	switch {
	case errors.Is(err, syncer.ErrLinkageMissing):
		resp.Warning = err.Error()
	case err != nil:
		slog.Warn("product sync failed",
			"component", "api",
			"action", "sync_products",
			"record_id", id,
			"error", err,
		)
		MapSyncError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) runPass(ctx context.Context, scope types.Scope, req triggerRequest) (types.PassResult, error) {
	switch scope {
	case types.ScopeArtists:
		return h.coord.SyncArtists(ctx, req.prefetch)
	case types.ScopeOffers:
		return h.coord.SyncOffers(ctx, req.prefetch, req.force)
	default:
		return h.coord.SyncProducts(ctx, req.force)
	}
}

func (h *Handler) scopeSyncing(ctx context.Context, scope types.Scope) (bool, error) {
	scopes, err := h.coord.Status(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range scopes {
		if s.Scope == scope {
			return s.Syncing, nil
		}
	}
	return false, nil
}

// offerIDParam reads the {id} path parameter, answering 422 when it is not a record id.
func offerIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if verr := validation.ValidateULID("id", id); verr != nil {
		WriteProblemWithErrors(w, r, "Invalid offer id", []validation.ValidationError{*verr})
		return "", false
	}
	return id, true
}

func parseTriggerRequest(r *http.Request) (triggerRequest, error) {
	var req triggerRequest
	q := r.URL.Query()
	for name, dst := range map[string]*bool{"prefetch": &req.prefetch, "force": &req.force, "wait": &req.wait} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("invalid %s parameter: %q", name, v)
		}
		*dst = b
	}
	return req, nil
}

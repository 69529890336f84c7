package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/spinsync/internal/types"
)

// scopeContextKey is the context key for the resolved sync scope.
type scopeContextKey struct{}

// WithScope returns a new context with the scope attached.
func WithScope(ctx context.Context, s types.Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, s)
}

// ScopeFromContext extracts the scope from the context.
func ScopeFromContext(ctx context.Context) (types.Scope, bool) {
	s, ok := ctx.Value(scopeContextKey{}).(types.Scope)
	return s, ok && s != ""
}

// ScopeCtx resolves the {scope} URL parameter. Unknown scopes get 404.
func ScopeCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope, ok := types.ParseScope(chi.URLParam(r, "scope"))
		if !ok {
			WriteProblem(w, r, http.StatusNotFound, "Unknown sync scope")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
	})
}

package httpapi

import (
	"context"

	"github.com/fedsearch/search-api/internal/platform/auth/carte"
)

type authKey struct{}

// WithAuth stores the identity established for the request.
func WithAuth(ctx context.Context, res carte.Result) context.Context {
	return context.WithValue(ctx, authKey{}, res)
}

// AuthFromContext returns the request identity. Requests that never passed
// an auth middleware report false.
func AuthFromContext(ctx context.Context) (carte.Result, bool) {
	v, ok := ctx.Value(authKey{}).(carte.Result)
	return v, ok
}

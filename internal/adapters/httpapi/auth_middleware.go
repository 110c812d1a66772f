package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/fedsearch/search-api/internal/domain"
	"github.com/fedsearch/search-api/internal/platform/auth/carte"
)

// Authenticator validates a carte presented by a client.
type Authenticator interface {
	Authenticate(ctx context.Context, token string, clientIP net.IP) (carte.Result, error)
}

func isPublicPath(path string) bool {
	return path == "/healthz" || path == "/metrics"
}

// NewCarteMiddleware authenticates the carte presented in the Authorization
// header (Bearer) or the "carte" query parameter and stores the result in the
// request context. Requests without a carte continue as anonymous; a
// rejected carte ends the request with 403.
func NewCarteMiddleware(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			res, err := a.Authenticate(r.Context(), bearerToken(r), clientIP(r))
			if err != nil {
				code := string(carte.CodeOf(err))
				if code == "" {
					code = "carte.error"
				}
				if carte.IsTransient(err) {
					writeError(w, r, http.StatusServiceUnavailable, code, "cannot resolve carte issuer right now", nil)
					return
				}
				writeChallenge(w, r, code, "carte rejected")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), res)))
		})
	}
}

// NewDevAuthMiddleware is a local/dev-only auth shim.
//
// It trusts the owner name in X-Debug-Owner (falling back to defaultOwner)
// and grants it every scope. Do NOT use this in production deployments.
func NewDevAuthMiddleware(defaultOwner string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			owner := strings.TrimSpace(r.Header.Get("X-Debug-Owner"))
			if owner == "" {
				owner = strings.TrimSpace(defaultOwner)
			}
			res := carte.Anonymous
			if owner != "" {
				res = carte.Result{
					OwnerName:   owner,
					ClientScope: domain.ClientScopeAll,
					AdminScope:  domain.AdminScopeAll,
				}
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), res)))
		})
	}
}

const (
	codeCarteRequired     = "carte.required"
	codeInsufficientScope = "carte.insufficient-scope"
)

// writeChallenge denies the request with 403 and a Bearer challenge naming
// code, which is also the error code in the body.
func writeChallenge(w http.ResponseWriter, r *http.Request, code, message string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf("Bearer error=%q", code))
	writeError(w, r, http.StatusForbidden, code, message, nil)
}

func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(authz) > len(prefix) && strings.EqualFold(authz[:len(prefix)], prefix) {
		return strings.TrimSpace(authz[len(prefix):])
	}
	return r.URL.Query().Get("carte")
}

// clientIP reads the caller address. realIPFrom has already replaced
// RemoteAddr when the peer is a configured trusted proxy.
func clientIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return net.ParseIP(host)
}

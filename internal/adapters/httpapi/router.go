package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type RouterOptions struct {
	// AuthMiddleware establishes the request identity. Nil leaves every
	// request unauthenticated.
	AuthMiddleware func(http.Handler) http.Handler
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
	// TrustedProxies are the peers allowed to set the client address via
	// X-Real-IP or X-Forwarded-For. Empty means the headers are ignored.
	TrustedProxies []*net.IPNet
}

// NewRouter constructs the API HTTP router without authentication.
func NewRouter(api *Server) http.Handler {
	return NewRouterWithOptions(api, RouterOptions{})
}

func NewRouterWithOptions(api *Server, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(realIPFrom(opts.TrustedProxies))
	r.Use(middleware.Recoverer)
	if opts.Logger != nil {
		r.Use(accessLog(opts.Logger))
	}
	if opts.AuthMiddleware != nil {
		r.Use(opts.AuthMiddleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Get("/whoami", api.Whoami)
	r.Post("/admin/verify/{kind}", api.VerifyEntry)
	return r
}

// ParseTrustedProxies parses CIDR strings for RouterOptions.TrustedProxies.
func ParseTrustedProxies(cidrs []string) ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", c, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// realIPFrom applies chi's RealIP only to requests whose peer is a trusted
// proxy. Anyone else could forge the headers and defeat address-bound cartes.
func realIPFrom(trusted []*net.IPNet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		rewrite := middleware.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if peer := clientIP(r); peer != nil {
				for _, n := range trusted {
					if n.Contains(peer) {
						rewrite.ServeHTTP(w, r)
						return
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	log := logger.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

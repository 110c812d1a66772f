package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	badgerdigest "github.com/fedsearch/search-api/internal/adapters/badger/digestcache"
	"github.com/fedsearch/search-api/internal/adapters/httpapi"
	memdigest "github.com/fedsearch/search-api/internal/adapters/memory/digestcache"
	"github.com/fedsearch/search-api/internal/adapters/namingrpc"
	"github.com/fedsearch/search-api/internal/adapters/noderest"
	postgres "github.com/fedsearch/search-api/internal/adapters/postgres"
	pgdigest "github.com/fedsearch/search-api/internal/adapters/postgres/digestcache"
	"github.com/fedsearch/search-api/internal/app/verification"
	"github.com/fedsearch/search-api/internal/platform/auth/carte"
	platformclock "github.com/fedsearch/search-api/internal/platform/clock"
	"github.com/fedsearch/search-api/internal/platform/config"
	"github.com/fedsearch/search-api/internal/platform/fingerprint"
	"github.com/fedsearch/search-api/internal/platform/logging"
	"github.com/fedsearch/search-api/internal/platform/metrics"
	"github.com/fedsearch/search-api/internal/platform/naming"
	digestport "github.com/fedsearch/search-api/internal/ports/out/digestcache"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()
	clk := platformclock.NewSystemClock()
	codec := fingerprint.NewCodec(nil)

	namingClient := namingrpc.New(cfg.Naming.URL, namingrpc.Options{
		HTTPClient:  &http.Client{Timeout: cfg.Naming.RequestTimeout},
		Logger:      logger,
		MaxFailures: cfg.Naming.BreakerMaxFailures,
		OpenTimeout: cfg.Naming.BreakerOpenTimeout,
	})
	names := naming.NewWithOptions(namingClient, naming.Options{
		SuccessTTL:      cfg.Naming.SuccessTTL,
		ErrorTTL:        cfg.Naming.ErrorTTL,
		BlockingTimeout: cfg.Naming.BlockingTimeout,
		PurgeInterval:   cfg.Naming.PurgeInterval,
		RefreshWorkers:  cfg.Naming.RefreshWorkers,
		Clock:           clk,
		Logger:          logger,
		Metrics:         collector,
	})
	defer names.Close()
	go names.Run(ctx)

	digests, cleanup, err := openDigestStore(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("open digest store", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}
	defer cleanup()

	fetcher := noderest.New(names, &http.Client{}, logger)
	verifier := verification.NewService(digests, fetcher, names, verification.Options{
		MaxReplyDepth: cfg.Verification.MaxReplyDepth,
		FetchTimeout:  cfg.Verification.FetchTimeout,
		Codec:         codec,
		Logger:        logger,
		Metrics:       collector,
	})

	// Auth configuration:
	// - Production: authenticate cartes issued for this node
	// - Local dev: set AUTH_MODE=dev to trust X-Debug-Owner
	var authMW func(http.Handler) http.Handler
	switch cfg.Auth.Mode {
	case "dev":
		logger.Warn("dev auth enabled; X-Debug-Owner is trusted", zap.String("default_owner", cfg.Auth.DevOwner))
		authMW = httpapi.NewDevAuthMiddleware(cfg.Auth.DevOwner)
	default:
		authMW = httpapi.NewCarteMiddleware(carte.NewWithOptions(cfg.Carte, names, carte.Options{
			Clock:   clk,
			Codec:   codec,
			Logger:  logger,
			Metrics: collector,
		}))
	}

	proxies, err := httpapi.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Fatal("trusted proxies", zap.Error(err))
	}
	handler := httpapi.NewRouterWithOptions(httpapi.NewServer(verifier), httpapi.RouterOptions{
		AuthMiddleware: authMW,
		Metrics:        collector.Handler(),
		Logger:         logger,
		TrustedProxies: proxies,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	go func() {
		logger.Info("api listening",
			zap.String("port", cfg.Server.Port),
			zap.String("node", cfg.Node.Name),
			zap.String("storage", cfg.Storage.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func openDigestStore(ctx context.Context, cfg config.StorageConfig) (digestport.Store, func(), error) {
	switch cfg.Backend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{})
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pgdigest.NewStore(pool), pool.Close, nil
	case "badger":
		s, err := badgerdigest.Open(cfg.BadgerDir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return memdigest.NewStore(), func() {}, nil
	}
}

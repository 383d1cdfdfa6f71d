package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"newsfeed/internal/aggregator"
	"newsfeed/internal/cache"
	"newsfeed/internal/common/pagination"
	"newsfeed/internal/httptransport"
	pgRepo "newsfeed/internal/infra/adapter/persistence/postgres"
	"newsfeed/internal/infra/db"
	"newsfeed/internal/registry"
	"newsfeed/internal/resilience/circuitbreaker"
	"newsfeed/internal/scheduler"
	"newsfeed/internal/stats"
	"newsfeed/pkg/config"
	"newsfeed/pkg/ratelimit"
	"newsfeed/pkg/security/csp"

	hhttp "newsfeed/internal/handler/http"
	"newsfeed/internal/handler/http/middleware"
	"newsfeed/internal/handler/http/newsapi"
	"newsfeed/internal/handler/http/requestid"
)

func main() {
	logger := initLogger()
	database := initDatabase(logger)
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	version := getVersion()
	components := setupServer(logger, database, version)

	runServer(logger, components, version)
}

func initLogger() *slog.Logger {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// initDatabase opens the database connection and runs migrations. A
// store the catalog can't reach at startup is a dependency-unavailable
// condition (exit code 2), distinct from a config error (exit code 1).
func initDatabase(logger *slog.Logger) *sql.DB {
	database := db.Open()
	if err := database.Ping(); err != nil {
		logger.Error("database unreachable", slog.Any("error", err))
		os.Exit(2)
	}
	if err := db.MigrateUp(database); err != nil {
		logger.Error("failed to migrate database", slog.Any("error", err))
		os.Exit(2)
	}
	return database
}

func getVersion() string {
	version := os.Getenv("VERSION")
	if version == "" {
		version = "dev"
	}
	return version
}

// ServerComponents holds the pieces setupServer builds so runServer can
// start background cleanup goroutines and the HTTP server from one place.
type ServerComponents struct {
	Handler    http.Handler
	IPStore    *ratelimit.InMemoryRateLimitStore
	IPWindow   time.Duration
	Aggregator *aggregator.Aggregator
}

// setupServer wires the catalog/cache/scheduler/aggregator/stats stack into
// internal/handler/http/newsapi's operations table, then wraps it in the
// ambient middleware chain.
func setupServer(logger *slog.Logger, database *sql.DB, version string) *ServerComponents {
	dbBreaker := circuitbreaker.NewDBCircuitBreaker(database)
	sourceRepo := pgRepo.NewSourceRepo(dbBreaker)
	statsRepo := pgRepo.NewStatsRepo(dbBreaker)

	cacheMgr := mustCache(logger)
	statsCollector := stats.New(statsRepo, logger)

	httpClient := httptransport.New(30*time.Second, nil, cacheMgr)
	builders := registry.BuildAdapterTable(httpClient, cacheMgr, logger)
	reg := registry.New(sourceRepo, builders, logger)
	if err := reg.LoadCatalog(context.Background()); err != nil {
		logger.Error("failed to load source catalog", slog.Any("error", err))
		os.Exit(2)
	}

	sched := scheduler.New(scheduler.DefaultConfig(), scheduler.NewMetrics(), reg, reg, cacheMgr, statsCollector, logger)
	agg := aggregator.New(cacheMgr, reg)

	handler := &newsapi.Handler{
		Registry:   reg,
		Cache:      cacheMgr,
		Scheduler:  sched,
		Aggregator: agg,
		Stats:      statsCollector,
		Pagination: pagination.LoadFromEnv(),
		Logger:     logger,
	}

	rateLimitConfig, err := config.LoadRateLimitConfig()
	if err != nil {
		logger.Error("failed to load rate limit configuration", slog.Any("error", err))
		os.Exit(1)
	}

	proxyConfig, err := middleware.LoadTrustedProxyConfig()
	if err != nil {
		logger.Error("failed to load trusted proxy configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var ipExtractor middleware.IPExtractor
	if proxyConfig.Enabled {
		ipExtractor = middleware.NewTrustedProxyExtractor(*proxyConfig)
		logger.Info("rate limiting: trusted proxy mode enabled",
			slog.Int("trusted_proxies_count", len(proxyConfig.AllowedCIDRs)))
	} else {
		ipExtractor = &middleware.RemoteAddrExtractor{}
		logger.Info("rate limiting: using RemoteAddr (secure mode, proxy headers ignored)")
	}

	var ipRateLimiter *middleware.IPRateLimiter
	var ipStore *ratelimit.InMemoryRateLimitStore
	if rateLimitConfig.Enabled {
		ipStore = ratelimit.NewInMemoryRateLimitStore(ratelimit.InMemoryStoreConfig{
			MaxKeys: rateLimitConfig.MaxActiveKeys,
		})
		algorithm := ratelimit.NewSlidingWindowAlgorithm(&ratelimit.SystemClock{})
		metrics := ratelimit.NewPrometheusMetrics()
		circuitBreaker := ratelimit.NewCircuitBreaker(ratelimit.CircuitBreakerConfig{
			FailureThreshold: rateLimitConfig.CircuitBreakerFailureThreshold,
			RecoveryTimeout:  rateLimitConfig.CircuitBreakerResetTimeout,
		})

		ipRateLimiter = middleware.NewIPRateLimiter(
			middleware.IPRateLimiterConfig{
				Limit:   rateLimitConfig.DefaultIPLimit,
				Window:  rateLimitConfig.DefaultIPWindow,
				Enabled: true,
			},
			ipExtractor,
			ipStore,
			algorithm,
			metrics,
			circuitBreaker,
		)

		logger.Info("rate limiting initialized",
			slog.Int("ip_limit", rateLimitConfig.DefaultIPLimit),
			slog.Duration("ip_window", rateLimitConfig.DefaultIPWindow),
			slog.Int("max_keys", rateLimitConfig.MaxActiveKeys))
	} else {
		logger.Warn("rate limiting is DISABLED - not recommended for production")
	}

	rootMux := setupRoutes(database, version, handler)
	wrapped := applyMiddleware(logger, rootMux, ipRateLimiter)

	return &ServerComponents{
		Handler:    wrapped,
		IPStore:    ipStore,
		IPWindow:   rateLimitConfig.DefaultIPWindow,
		Aggregator: agg,
	}
}

// aggregatorRefreshInterval is how often the background loop asks the
// Aggregator to re-cluster; the Aggregator itself no-ops unless an hour
// has passed since its last non-forced update, so this only needs to be
// frequent enough that a fresh process doesn't wait a full hour to
// populate hot topics and unified news after its first force below.
const aggregatorRefreshInterval = 5 * time.Minute

// startAggregatorRefresh keeps the Aggregator's in-memory cluster set
// current: an immediate forced update so a freshly started process serves
// hot topics right away, then periodic non-forced updates afterward.
func startAggregatorRefresh(ctx context.Context, logger *slog.Logger, agg *aggregator.Aggregator) {
	if err := agg.Update(ctx, true); err != nil {
		logger.Warn("initial aggregator update failed", slog.Any("error", err))
	}
	hhttp.UpdateArticlesTotal(agg.Len())

	ticker := time.NewTicker(aggregatorRefreshInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := agg.Update(ctx, false); err != nil {
					logger.Warn("aggregator update failed", slog.Any("error", err))
				}
				hhttp.UpdateArticlesTotal(agg.Len())
			}
		}
	}()
}

func mustCache(logger *slog.Logger) *cache.Manager {
	cfg := cache.DefaultConfig()
	var remote cache.RemoteTier
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		tier, err := cache.NewRedisTier(redisURL, "newsfeed")
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(2)
		}
		remote = tier
	} else {
		logger.Warn("REDIS_URL not set, running with memory-only cache tier")
	}

	mgr, err := cache.New(cfg, remote)
	if err != nil {
		logger.Error("failed to build cache manager", slog.Any("error", err))
		os.Exit(2)
	}
	return mgr
}

// setupRoutes registers the health/readiness/metrics surface unauthenticated
// and the news API operations table behind the ambient middleware chain.
func setupRoutes(database *sql.DB, version string, handler *newsapi.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /health", &hhttp.HealthHandler{DB: database, Version: version})
	mux.Handle("GET /ready", &hhttp.ReadyHandler{DB: database})
	mux.Handle("GET /live", &hhttp.LiveHandler{})
	mux.Handle("GET /metrics", hhttp.MetricsHandler())

	newsapi.Register(mux, handler)

	return mux
}

// applyMiddleware wraps the handler with the ambient middleware chain.
// Order (outermost first): CORS → Request ID → IP Rate Limit → Recovery →
// Logging → Body Limit → CSP → Metrics.
func applyMiddleware(logger *slog.Logger, handler http.Handler, ipRateLimiter *middleware.IPRateLimiter) http.Handler {
	corsConfig, err := middleware.LoadCORSConfig()
	if err != nil {
		logger.Error("failed to load CORS configuration", slog.Any("error", err))
		os.Exit(1)
	}
	corsConfig.Logger = &middleware.SlogAdapter{Logger: logger}
	logger.Info("CORS enabled",
		slog.Any("allowed_origins", corsConfig.Validator.GetAllowedOrigins()),
		slog.Any("allowed_methods", corsConfig.AllowedMethods))

	cspConfig, err := config.LoadCSPConfig()
	if err != nil {
		logger.Error("failed to load CSP configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var cspMiddleware func(http.Handler) http.Handler
	if cspConfig.Enabled {
		cspMW := middleware.NewCSPMiddleware(middleware.CSPMiddlewareConfig{
			Enabled:       true,
			DefaultPolicy: csp.StrictPolicy(),
			ReportOnly:    cspConfig.ReportOnly,
		})
		cspMiddleware = cspMW.Middleware()
		logger.Info("CSP enabled", slog.Bool("report_only", cspConfig.ReportOnly))
	} else {
		cspMiddleware = func(next http.Handler) http.Handler { return next }
		logger.Warn("CSP is disabled")
	}

	chain := handler
	chain = hhttp.MetricsMiddleware(chain)
	chain = cspMiddleware(chain)
	chain = hhttp.LimitRequestBody(1 << 20)(chain)
	chain = hhttp.Logging(logger)(chain)
	chain = hhttp.Recover(logger)(chain)
	if ipRateLimiter != nil {
		chain = ipRateLimiter.Middleware()(chain)
	}
	chain = requestid.Middleware(chain)
	chain = middleware.CORS(*corsConfig)(chain)

	return chain
}

// runServer starts the HTTP server and handles graceful shutdown.
func runServer(logger *slog.Logger, components *ServerComponents, version string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cleanupCfg := hhttp.LoadCleanupConfigFromEnv()
	if components.IPStore != nil {
		go hhttp.StartRateLimitCleanup(ctx, components.IPStore, cleanupCfg.Interval, components.IPWindow, "ip")
		logger.Info("IP rate limit cleanup started", slog.Duration("interval", cleanupCfg.Interval))
	}

	startAggregatorRefresh(ctx, logger, components.Aggregator)

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           components.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		logger.Info("server starting", slog.String("addr", ":8080"), slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(3)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", slog.Any("error", err))
		os.Exit(3)
	}
	logger.Info("server stopped")
}

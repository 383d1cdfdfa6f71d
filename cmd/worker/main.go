package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/robfig/cron/v3"

	pkgconfig "newsfeed/internal/pkg/config"

	"newsfeed/internal/infra/db"
	workerPkg "newsfeed/internal/infra/worker"

	"newsfeed/internal/cache"
	hhttp "newsfeed/internal/handler/http"
	"newsfeed/internal/httptransport"
	pgRepo "newsfeed/internal/infra/adapter/persistence/postgres"
	"newsfeed/internal/proxy"
	"newsfeed/internal/registry"
	"newsfeed/internal/resilience/circuitbreaker"
	"newsfeed/internal/scheduler"
	"newsfeed/internal/stats"
)

func main() {
	logger := initLogger()
	database := initDatabase(logger)
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerMetrics := workerPkg.NewWorkerMetrics()
	workerMetrics.MustRegister()

	healthPort := loadHealthPort()
	healthAddr := fmt.Sprintf(":%d", healthPort)
	healthServer := workerPkg.NewHealthServer(healthAddr, logger)
	go func() {
		if err := healthServer.Start(ctx); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()
	logger.Info("health check server started", slog.String("addr", healthAddr))

	startMetricsServer(ctx, logger)

	dbBreaker := circuitbreaker.NewDBCircuitBreaker(database)
	sourceRepo := pgRepo.NewSourceRepo(dbBreaker)
	statsRepo := pgRepo.NewStatsRepo(dbBreaker)
	proxyRepo := pgRepo.NewProxyRepo(dbBreaker)

	cacheMgr := mustCache(logger)
	statsCollector := stats.New(statsRepo, logger)

	proxyMgr := proxy.New(proxyRepo, loadForcedProxyDomains())
	if err := proxyMgr.RefreshProxies(ctx); err != nil {
		logger.Warn("initial proxy refresh failed, continuing without a warmed proxy pool", slog.Any("error", err))
	}

	httpClient := httptransport.New(30*time.Second, proxyAwareProxyFunc(proxyMgr), cacheMgr)

	builders := registry.BuildAdapterTable(httpClient, cacheMgr, logger)
	reg := registry.New(sourceRepo, builders, logger)
	if err := reg.LoadCatalog(ctx); err != nil {
		logger.Error("failed to load source catalog", slog.Any("error", err))
		os.Exit(2)
	}
	if sources, err := reg.ListActive(ctx); err == nil {
		hhttp.UpdateSourcesTotal(len(sources))
	}

	schedulerMetrics := scheduler.NewMetrics()
	schedulerMetrics.MustRegister()
	schedulerCfg, _ := scheduler.LoadConfigFromEnv(logger, schedulerMetrics)

	sched := scheduler.New(*schedulerCfg, schedulerMetrics, reg, reg, cacheMgr, statsCollector, logger)
	if err := sched.Initialize(ctx); err != nil {
		logger.Error("failed to initialize scheduler timeline", slog.Any("error", err))
		os.Exit(2)
	}

	cronRunner := startCronJobs(logger, *schedulerCfg, reg, proxyMgr)
	defer cronRunner.Stop()

	healthServer.SetReady(true)
	logger.Info("worker marked as ready",
		slog.Int("worker_pool_size", schedulerCfg.WorkerPoolSize),
		slog.Duration("tick_interval", schedulerCfg.TickInterval),
		slog.String("cron_schedule", schedulerCfg.CronSchedule))

	runWorker(ctx, cancel, logger, sched, healthServer)
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

// initDatabase opens the database connection and waits for cmd/api's
// migrations to land. A schema that never arrives is a dependency-
// unavailable condition (exit code 2).
func initDatabase(logger *slog.Logger) *sql.DB {
	database := db.Open()
	const probe = "SELECT 1 FROM sources LIMIT 1"
	for i := 0; i < 10; i++ {
		if _, err := database.Exec(probe); err == nil {
			return database
		}
		logger.Info("waiting for migrations, retrying in 3s", slog.Int("attempt", i+1))
		time.Sleep(3 * time.Second)
	}
	logger.Error("migrations did not complete in time")
	os.Exit(2)
	return nil
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

func loadHealthPort() int {
	result := pkgconfig.LoadEnvInt("HEALTH_PORT", 9091, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1024, 65535)
	})
	return result.Value.(int)
}

// loadForcedProxyDomains reads the comma-separated PROXY_FORCED_DOMAINS
// list: hosts that must route through the default proxy group regardless
// of a source's own needs_proxy flag.
func loadForcedProxyDomains() []string {
	raw := pkgconfig.LoadEnvString("PROXY_FORCED_DOMAINS", "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	domains := make([]string, 0, len(parts))
	for _, p := range parts {
		if d := strings.TrimSpace(p); d != "" {
			domains = append(domains, d)
		}
	}
	return domains
}

// proxyAwareProxyFunc builds the shared http.Client's Transport.Proxy
// callback. Every adapter family shares one http.Client, so the proxy
// decision has to be made per request rather than per source — the
// Scheduler attaches the fetching source's needs_proxy/proxy_group fields
// to the request's context (proxy.WithHint) before calling the adapter,
// and this callback reads them back via req.Context(). A request with no
// hint attached (on-demand fetches issued outside the Scheduler, or any
// other caller of the shared client) falls back to the configured
// PROXY_FORCED_DOMAINS host set.
func proxyAwareProxyFunc(mgr *proxy.Manager) func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		if hint, ok := proxy.HintFromContext(req.Context()); ok {
			if !hint.NeedsProxy {
				return nil, nil
			}
			group := hint.Group
			if group == "" {
				group = "default"
			}
			proxyURL, ok := mgr.Pick(group)
			if !ok {
				return nil, nil
			}
			return proxyURL, nil
		}

		host := strings.ToLower(req.URL.Hostname())
		if _, forced := mgr.DomainsRequiringProxy()[host]; !forced {
			return nil, nil
		}
		proxyURL, ok := mgr.Pick("default")
		if !ok {
			return nil, nil
		}
		return proxyURL, nil
	}
}

// startCronJobs drives the coarse base tick layered underneath the
// Scheduler's adaptive per-source timeline: a periodic catalog reload
// (new/removed sources since startup) and a proxy pool refresh plus
// health check, on cfg's schedule and timezone.
func startCronJobs(logger *slog.Logger, cfg scheduler.Config, reg *registry.Registry, proxyMgr *proxy.Manager) *cron.Cron {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid timezone, using UTC", slog.String("timezone", cfg.Timezone), slog.Any("error", err))
		loc = time.UTC
	}

	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc(cfg.CronSchedule, func() {
		runCoarseTick(logger, reg, proxyMgr)
	})
	if err != nil {
		logger.Error("failed to schedule coarse tick, catalog and proxy pool will only refresh at startup",
			slog.Any("error", err))
		return c
	}
	c.Start()
	return c
}

func runCoarseTick(logger *slog.Logger, reg *registry.Registry, proxyMgr *proxy.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	added, updated, removed, err := reg.RefreshCatalog(ctx)
	if err != nil {
		logger.Error("catalog refresh failed", slog.Any("error", err))
	} else {
		logger.Info("catalog refreshed", slog.Int("added", added), slog.Int("updated", updated), slog.Int("removed", removed))
		if sources, err := reg.ListActive(ctx); err == nil {
			hhttp.UpdateSourcesTotal(len(sources))
		}
	}

	if err := proxyMgr.RefreshProxies(ctx); err != nil {
		logger.Error("proxy pool refresh failed", slog.Any("error", err))
	}
	if err := proxyMgr.CheckHealth(ctx); err != nil {
		logger.Error("proxy health check failed", slog.Any("error", err))
	}
}

// runWorker runs the Scheduler's main loop until SIGINT/SIGTERM, then lets
// RunForever's own shutdown grace period drain in-flight fetches.
func runWorker(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger, sched *scheduler.Scheduler, healthServer *workerPkg.HealthServer) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sched.RunForever(ctx)
	}()

	select {
	case <-quit:
		logger.Info("shutting down worker...")
		healthServer.SetReady(false)
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			logger.Error("scheduler loop exited unexpectedly", slog.Any("error", err))
			os.Exit(3)
		}
	}
	logger.Info("worker stopped")
}

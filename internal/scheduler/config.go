package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"newsfeed/internal/pkg/config"
)

// Config holds the Scheduler's tunables: its worker pool size, the
// per-source default cadence, and the adaptive-interval coefficients that
// stretch or shrink that cadence based on recent health.
//
// Loaded via LoadConfigFromEnv following the same fail-open pattern as the
// rest of the ambient stack: an invalid environment value falls back to its
// default and is logged, rather than aborting startup.
type Config struct {
	// WorkerPoolSize bounds concurrent in-flight adapter fetches across all
	// sources. Default: runtime.NumCPU() * 4, capped at 64.
	WorkerPoolSize int

	// TickInterval is how often the scheduling loop scans for due sources.
	// Default: 1 second.
	TickInterval time.Duration

	// DefaultUpdateInterval is the base cadence applied to a source when its
	// own update_interval_seconds is unset.
	// Default: 10 minutes.
	DefaultUpdateInterval time.Duration

	// DefaultCacheTTL is the cache lifetime applied when a source's own
	// cache_ttl_seconds is unset.
	// Default: 5 minutes.
	DefaultCacheTTL time.Duration

	// FetchTimeoutCeiling upper-bounds the per-fetch deadline; the effective
	// deadline is min(source.UpdateInterval, FetchTimeoutCeiling).
	// Default: 2 minutes.
	FetchTimeoutCeiling time.Duration

	// KFail grows the next-due gap proportionally to consecutive failures.
	// Range: 0-5. Default: 0.5.
	KFail float64

	// KActivity shrinks the next-due gap for sources that frequently
	// produce new items. Range: 0-1. Default: 0.3.
	KActivity float64

	// ActivityNormalizationWindow is the recent-news-count value that maps
	// to a normalized activity of 1.0 in the adaptive formula.
	// Default: 10.
	ActivityNormalizationWindow int

	// MinInterval is the floor applied after the adaptive formula.
	// Default: 2 minutes.
	MinInterval time.Duration

	// MaxInterval is the ceiling applied after the adaptive formula.
	// Default: 6 hours.
	MaxInterval time.Duration

	// ShutdownGracePeriod bounds how long RunForever waits for in-flight
	// fetches to finish before the caller force-closes HTTP clients and
	// browser processes.
	// Default: 30 seconds.
	ShutdownGracePeriod time.Duration

	// Timezone is the IANA timezone name used for the coarse cron base tick
	// (e.g. a daily catalog refresh) layered underneath the adaptive
	// per-source timeline.
	// Default: "UTC".
	Timezone string

	// CronSchedule drives the coarse base tick (catalog reload), separate
	// from the adaptive per-source due timeline.
	// Default: "0 */6 * * *" (every 6 hours).
	CronSchedule string
}

// DefaultConfig returns production-ready defaults for a moderate-size
// source catalog.
func DefaultConfig() Config {
	return Config{
		WorkerPoolSize:              40,
		TickInterval:                time.Second,
		DefaultUpdateInterval:       10 * time.Minute,
		DefaultCacheTTL:             5 * time.Minute,
		FetchTimeoutCeiling:         2 * time.Minute,
		KFail:                       0.5,
		KActivity:                   0.3,
		ActivityNormalizationWindow: 10,
		MinInterval:                 2 * time.Minute,
		MaxInterval:                 6 * time.Hour,
		ShutdownGracePeriod:         30 * time.Second,
		Timezone:                    "UTC",
		CronSchedule:                "0 */6 * * *",
	}
}

// Validate checks the configuration, collecting every violation rather than
// failing on the first one so a single log line reports all problems.
func (c *Config) Validate() error {
	var errs []error

	if err := config.ValidateIntRange(c.WorkerPoolSize, 1, 512); err != nil {
		errs = append(errs, fmt.Errorf("worker pool size: %w", err))
	}
	if err := config.ValidatePositiveDuration(c.TickInterval); err != nil {
		errs = append(errs, fmt.Errorf("tick interval: %w", err))
	}
	if err := config.ValidatePositiveDuration(c.DefaultUpdateInterval); err != nil {
		errs = append(errs, fmt.Errorf("default update interval: %w", err))
	}
	if err := config.ValidatePositiveDuration(c.DefaultCacheTTL); err != nil {
		errs = append(errs, fmt.Errorf("default cache ttl: %w", err))
	}
	if err := config.ValidatePositiveDuration(c.FetchTimeoutCeiling); err != nil {
		errs = append(errs, fmt.Errorf("fetch timeout ceiling: %w", err))
	}
	if err := config.ValidateFloatRange(c.KFail, 0, 5); err != nil {
		errs = append(errs, fmt.Errorf("k_fail: %w", err))
	}
	if err := config.ValidateFloatRange(c.KActivity, 0, 1); err != nil {
		errs = append(errs, fmt.Errorf("k_activity: %w", err))
	}
	if err := config.ValidateIntRange(c.ActivityNormalizationWindow, 1, 10000); err != nil {
		errs = append(errs, fmt.Errorf("activity normalization window: %w", err))
	}
	if err := config.ValidateDuration(c.MinInterval, time.Second, 24*time.Hour); err != nil {
		errs = append(errs, fmt.Errorf("min interval: %w", err))
	}
	if err := config.ValidateDuration(c.MaxInterval, c.MinInterval, 7*24*time.Hour); err != nil {
		errs = append(errs, fmt.Errorf("max interval: %w", err))
	}
	if err := config.ValidatePositiveDuration(c.ShutdownGracePeriod); err != nil {
		errs = append(errs, fmt.Errorf("shutdown grace period: %w", err))
	}
	if err := config.ValidateTimezone(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if err := config.ValidateCronSchedule(c.CronSchedule); err != nil {
		errs = append(errs, fmt.Errorf("cron schedule: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}
	return nil
}

// LoadConfigFromEnv loads Scheduler configuration from environment
// variables with validation and fail-open fallback to defaults, mirroring
// the worker component's LoadConfigFromEnv.
//
// Environment variables:
//   - SCHEDULER_WORKER_POOL_SIZE / WORKER_POOL_SIZE
//   - SCHEDULER_TICK_INTERVAL
//   - DEFAULT_UPDATE_INTERVAL
//   - DEFAULT_CACHE_TTL
//   - SCHEDULER_FETCH_TIMEOUT_CEILING
//   - SCHEDULER_K_FAIL
//   - SCHEDULER_K_ACTIVITY
//   - SCHEDULER_ACTIVITY_WINDOW
//   - SCHEDULER_MIN_INTERVAL
//   - SCHEDULER_MAX_INTERVAL
//   - SCHEDULER_SHUTDOWN_GRACE_PERIOD
//   - SCHEDULER_TIMEZONE / TZ
//   - SCHEDULER_CRON_SCHEDULE
func LoadConfigFromEnv(logger *slog.Logger, metrics *Metrics) (*Config, error) {
	cfg := DefaultConfig()
	fallbackApplied := false

	applyInt := func(field string, envKey string, cur *int, min, max int) {
		result := config.LoadEnvInt(envKey, *cur, func(v int) error {
			return config.ValidateIntRange(v, min, max)
		})
		*cur = result.Value.(int)
		if result.FallbackApplied {
			fallbackApplied = true
			metrics.RecordValidationError(field)
			metrics.RecordFallback(field, "default")
			for _, warning := range result.Warnings {
				logger.Warn("Configuration fallback applied", slog.String("field", field), slog.String("warning", warning))
			}
		}
	}

	applyDuration := func(field, envKey string, cur *time.Duration, min, max time.Duration) {
		result := config.LoadEnvDuration(envKey, *cur, func(d time.Duration) error {
			return config.ValidateDuration(d, min, max)
		})
		*cur = result.Value.(time.Duration)
		if result.FallbackApplied {
			fallbackApplied = true
			metrics.RecordValidationError(field)
			metrics.RecordFallback(field, "default")
			for _, warning := range result.Warnings {
				logger.Warn("Configuration fallback applied", slog.String("field", field), slog.String("warning", warning))
			}
		}
	}

	applyFloat := func(field, envKey string, cur *float64, min, max float64) {
		result := config.LoadEnvFloat(envKey, *cur, func(v float64) error {
			return config.ValidateFloatRange(v, min, max)
		})
		*cur = result.Value.(float64)
		if result.FallbackApplied {
			fallbackApplied = true
			metrics.RecordValidationError(field)
			metrics.RecordFallback(field, "default")
			for _, warning := range result.Warnings {
				logger.Warn("Configuration fallback applied", slog.String("field", field), slog.String("warning", warning))
			}
		}
	}

	applyInt("worker_pool_size", "SCHEDULER_WORKER_POOL_SIZE", &cfg.WorkerPoolSize, 1, 512)
	applyDuration("tick_interval", "SCHEDULER_TICK_INTERVAL", &cfg.TickInterval, time.Millisecond, time.Minute)
	applyDuration("default_update_interval", "DEFAULT_UPDATE_INTERVAL", &cfg.DefaultUpdateInterval, time.Second, 24*time.Hour)
	applyDuration("default_cache_ttl", "DEFAULT_CACHE_TTL", &cfg.DefaultCacheTTL, time.Second, 24*time.Hour)
	applyDuration("fetch_timeout_ceiling", "SCHEDULER_FETCH_TIMEOUT_CEILING", &cfg.FetchTimeoutCeiling, time.Second, time.Hour)
	applyFloat("k_fail", "SCHEDULER_K_FAIL", &cfg.KFail, 0, 5)
	applyFloat("k_activity", "SCHEDULER_K_ACTIVITY", &cfg.KActivity, 0, 1)
	applyInt("activity_normalization_window", "SCHEDULER_ACTIVITY_WINDOW", &cfg.ActivityNormalizationWindow, 1, 10000)
	applyDuration("min_interval", "SCHEDULER_MIN_INTERVAL", &cfg.MinInterval, time.Second, 24*time.Hour)
	applyDuration("max_interval", "SCHEDULER_MAX_INTERVAL", &cfg.MaxInterval, cfg.MinInterval, 7*24*time.Hour)
	applyDuration("shutdown_grace_period", "SCHEDULER_SHUTDOWN_GRACE_PERIOD", &cfg.ShutdownGracePeriod, time.Second, 10*time.Minute)

	tzResult := config.LoadEnvWithFallback("SCHEDULER_TIMEZONE", cfg.Timezone, config.ValidateTimezone)
	cfg.Timezone = tzResult.Value.(string)
	if tzResult.FallbackApplied {
		fallbackApplied = true
		metrics.RecordValidationError("timezone")
		metrics.RecordFallback("timezone", "default")
	}

	cronResult := config.LoadEnvWithFallback("SCHEDULER_CRON_SCHEDULE", cfg.CronSchedule, config.ValidateCronSchedule)
	cfg.CronSchedule = cronResult.Value.(string)
	if cronResult.FallbackApplied {
		fallbackApplied = true
		metrics.RecordValidationError("cron_schedule")
		metrics.RecordFallback("cron_schedule", "default")
	}

	metrics.SetFallbackActive("", fallbackApplied)
	metrics.RecordLoadTimestamp()

	return &cfg, nil
}

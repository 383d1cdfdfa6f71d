// Package stats implements the Stats Collector: a non-blocking accumulator
// that wraps each adapter fetch outcome, periodically flushing per-source
// counters to the metadata store's append-only history.
package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"newsfeed/internal/domain/entity"
	"newsfeed/internal/repository"
	"newsfeed/internal/resilience/retry"
)

// defaultFlushInterval is how long an accumulator is allowed to go without
// flushing when every outcome recorded against it has been a success.
const defaultFlushInterval = time.Hour

// key identifies one accumulator: a source can be fetched both by the
// internal scheduler loop and on behalf of an HTTP caller, and those are
// tracked separately.
type key struct {
	sourceID string
	apiType  entity.APIType
}

// Collector accumulates SourceStats in memory and flushes them to repo on
// an interval or immediately after an error, never blocking the caller that
// is recording an outcome. It satisfies scheduler.StatsRecorder.
type Collector struct {
	repo          repository.StatsRepository
	flushInterval time.Duration
	metrics       *Metrics
	logger        *slog.Logger

	mu           sync.Mutex
	accumulators map[key]*entity.SourceStats
	lastFlush    map[key]time.Time
}

// New builds a Collector that flushes to repo with the default flush
// interval.
func New(repo repository.StatsRepository, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		repo:          repo,
		flushInterval: defaultFlushInterval,
		metrics:       NewMetrics(),
		logger:        logger,
		accumulators:  make(map[key]*entity.SourceStats),
		lastFlush:     make(map[key]time.Time),
	}
}

// WithFlushInterval overrides the default hourly flush cadence; intended
// for tests.
func (c *Collector) WithFlushInterval(d time.Duration) *Collector {
	c.flushInterval = d
	return c
}

// RecordSuccess folds a successful fetch outcome into the (sourceID,
// apiType) accumulator.
func (c *Collector) RecordSuccess(ctx context.Context, sourceID string, apiType entity.APIType, elapsed time.Duration, newsCount int) {
	c.record(sourceID, apiType, false, func(s *entity.SourceStats) {
		s.RecordSuccess(elapsed, newsCount)
	})
	c.metrics.RecordOutcome(string(apiType), "success")
}

// RecordError folds a failed fetch outcome into the (sourceID, apiType)
// accumulator and forces an immediate flush attempt.
func (c *Collector) RecordError(ctx context.Context, sourceID string, apiType entity.APIType, elapsed time.Duration, err error) {
	c.record(sourceID, apiType, true, func(s *entity.SourceStats) {
		s.RecordError(elapsed, err.Error())
	})
	c.metrics.RecordOutcome(string(apiType), "error")
}

func (c *Collector) record(sourceID string, apiType entity.APIType, forceFlush bool, mutate func(*entity.SourceStats)) {
	k := key{sourceID: sourceID, apiType: apiType}

	c.mu.Lock()
	acc, ok := c.accumulators[k]
	if !ok {
		acc = &entity.SourceStats{SourceID: sourceID, APIType: apiType}
		c.accumulators[k] = acc
	}
	mutate(acc)

	last, seen := c.lastFlush[k]
	due := forceFlush || !seen || time.Since(last) >= c.flushInterval

	var toFlush *entity.SourceStats
	if due {
		toFlush = acc
		c.accumulators[k] = &entity.SourceStats{SourceID: sourceID, APIType: apiType}
		c.lastFlush[k] = time.Now()
	}
	c.mu.Unlock()

	if toFlush != nil {
		go c.flush(k, toFlush)
	}
}

// flush writes snapshot to the metadata store with a small retry budget.
// A failed flush merges snapshot back into the live accumulator instead of
// dropping it, so the delta is folded into whatever the next flush cycle
// collects: stats are delayed, never lost.
func (c *Collector) flush(k key, snapshot *entity.SourceStats) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := retry.WithBackoff(ctx, retry.StatsFlushConfig(), func() error {
		return c.repo.AppendFlush(ctx, snapshot, time.Now())
	})

	if err != nil {
		c.logger.Warn("stats flush failed, merging into next cycle",
			slog.String("source_id", k.sourceID),
			slog.String("api_type", string(k.apiType)),
			slog.Any("error", err))
		c.metrics.FlushFailuresTotal.Inc()

		c.mu.Lock()
		defer c.mu.Unlock()
		live, ok := c.accumulators[k]
		if !ok {
			live = &entity.SourceStats{SourceID: k.sourceID, APIType: k.apiType}
			c.accumulators[k] = live
		}
		live.Merge(snapshot)
		// Reset lastFlush so the merged accumulator is retried promptly
		// rather than waiting out a fresh full interval.
		c.lastFlush[k] = time.Time{}
		return
	}

	c.metrics.FlushesTotal.Inc()
}

// LatestBySource returns the most recently flushed history rows for
// sourceID, passed straight through to the metadata store.
func (c *Collector) LatestBySource(ctx context.Context, sourceID string) ([]*entity.SourceStats, error) {
	return c.repo.LatestBySource(ctx, sourceID)
}

// InFlight returns a point-in-time copy of the not-yet-flushed accumulators
// for sourceID, across both api types.
func (c *Collector) InFlight(sourceID string) []entity.SourceStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []entity.SourceStats
	for k, acc := range c.accumulators {
		if k.sourceID == sourceID {
			out = append(out, *acc)
		}
	}
	return out
}

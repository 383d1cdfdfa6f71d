// Package scheduler drives per-source periodic fetches: it builds a
// next-due timeline from the source catalog, dispatches due sources onto a
// bounded worker pool, and stretches or shrinks each source's cadence based
// on its recent health and activity.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"newsfeed/internal/dedup"
	"newsfeed/internal/domain/entity"
	"newsfeed/internal/proxy"
)

// SourceProvider reads the current catalog. Implemented by internal/registry.
type SourceProvider interface {
	ListActive(ctx context.Context) ([]*entity.Source, error)
	Get(ctx context.Context, sourceID string) (*entity.Source, error)
}

// Adapter fetches and normalizes one source's items. Implemented by each
// family in internal/adapter.
type Adapter interface {
	Fetch(ctx context.Context, force bool) ([]entity.NewsItem, error)
}

// AdapterFactory resolves the adapter for a given source. Implemented by
// internal/registry's compile-time adapter table.
type AdapterFactory interface {
	Adapter(source *entity.Source) (Adapter, error)
}

// CacheStore is the subset of the Cache Manager the Scheduler writes
// through to after a successful fetch.
type CacheStore interface {
	SetEntry(ctx context.Context, entry entity.CacheEntry, ttl time.Duration) error
}

// StatsRecorder is the subset of the Stats Collector the Scheduler reports
// fetch outcomes to.
type StatsRecorder interface {
	RecordSuccess(ctx context.Context, sourceID string, apiType entity.APIType, elapsed time.Duration, newsCount int)
	RecordError(ctx context.Context, sourceID string, apiType entity.APIType, elapsed time.Duration, err error)
}

// SourceState is the Scheduler's per-source bookkeeping, returned verbatim
// by Status().
type SourceState struct {
	SourceID            string
	NextDue             time.Time
	LastSuccess         *time.Time
	LastError           string
	ConsecutiveFailures int
	RecentNewsCounts    []int
}

// Scheduler implements a per-source adaptive timeline: initialize
// builds the timeline from the catalog, RunForever ticks it, FetchSource
// runs (or joins) one source's fetch, and Status reports the timeline's
// current shape.
type Scheduler struct {
	cfg      Config
	metrics  *Metrics
	sources  SourceProvider
	adapters AdapterFactory
	cache    CacheStore
	stats    StatsRecorder
	logger   *slog.Logger
	dedup    *dedup.Deduplicator

	group singleflight.Group

	mu    sync.Mutex
	state map[string]*SourceState
}

// New builds a Scheduler. Call Initialize before RunForever.
func New(cfg Config, metrics *Metrics, sources SourceProvider, adapters AdapterFactory, cache CacheStore, stats StatsRecorder, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		metrics:  metrics,
		sources:  sources,
		adapters: adapters,
		cache:    cache,
		stats:    stats,
		logger:   logger,
		dedup:    dedup.New(),
		state:    make(map[string]*SourceState),
	}
}

// Initialize builds the next-due timeline from the Registry's current
// active sources. Sources not already tracked start due immediately so a
// fresh process fetches everything once before settling into its adaptive
// cadence.
func (s *Scheduler) Initialize(ctx context.Context) error {
	active, err := s.sources.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active sources: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	seen := make(map[string]bool, len(active))
	for _, src := range active {
		seen[src.SourceID] = true
		if _, ok := s.state[src.SourceID]; !ok {
			s.state[src.SourceID] = &SourceState{SourceID: src.SourceID, NextDue: now}
		}
	}
	for id := range s.state {
		if !seen[id] {
			delete(s.state, id)
		}
	}
	return nil
}

// RunForever is the main scheduling loop: on every tick it selects sources
// whose next-due time has elapsed, dispatches each onto the bounded worker
// pool, and awaits the round before ticking again. It returns when ctx is
// cancelled, after waiting up to ShutdownGracePeriod for in-flight fetches.
func (s *Scheduler) RunForever(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.shutdown()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("scheduler tick failed", slog.Any("error", err))
			}
		}
	}
}

func (s *Scheduler) shutdown() error {
	graceCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
	defer cancel()
	<-graceCtx.Done()
	return context.Canceled
}

// tick dispatches every currently-due source onto the bounded worker pool
// and waits for the round to finish.
func (s *Scheduler) tick(ctx context.Context) error {
	due := s.dueSources()
	s.metrics.SetDueSources(len(due))
	if len(due) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.WorkerPoolSize)

	for _, sourceID := range due {
		sourceID := sourceID
		g.Go(func() error {
			_, err := s.FetchSource(gctx, sourceID, false)
			if err != nil {
				s.logger.Warn("scheduled fetch failed", slog.String("source_id", sourceID), slog.Any("error", err))
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) dueSources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var due []string
	for id, st := range s.state {
		if !now.Before(st.NextDue) {
			due = append(due, id)
		}
	}
	sort.Strings(due)
	return due
}

// FetchSource runs one source's fetch. Concurrent callers for the same
// source_id collapse into a single in-flight adapter call (golang.org/x/
// sync/singleflight), all observing the same result, whether the call
// originated from the scheduling loop or an on-demand API request.
func (s *Scheduler) FetchSource(ctx context.Context, sourceID string, force bool) (bool, error) {
	v, err, shared := s.group.Do(sourceID, func() (interface{}, error) {
		return s.doFetch(ctx, sourceID, force)
	})
	if shared {
		s.metrics.RecordSingleflightJoin()
	}
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (s *Scheduler) doFetch(ctx context.Context, sourceID string, force bool) (bool, error) {
	src, err := s.sources.Get(ctx, sourceID)
	if err != nil {
		return false, fmt.Errorf("load source %s: %w", sourceID, err)
	}

	adapter, err := s.adapters.Adapter(src)
	if err != nil {
		return false, fmt.Errorf("resolve adapter for %s: %w", sourceID, err)
	}

	deadline := src.UpdateIntervalSeconds
	timeout := time.Duration(deadline) * time.Second
	if timeout <= 0 || timeout > s.cfg.FetchTimeoutCeiling {
		timeout = s.cfg.FetchTimeoutCeiling
	}
	ctx = proxy.WithHint(ctx, proxy.Hint{NeedsProxy: src.NeedsProxy, Group: src.ProxyGroup})
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.metrics.IncInFlight()
	start := time.Now()
	items, fetchErr := adapter.Fetch(fetchCtx, force)
	elapsed := time.Since(start)
	s.metrics.DecInFlight()
	s.metrics.RecordFetchDuration(elapsed.Seconds())

	if fetchErr != nil {
		s.recordFailure(ctx, src, elapsed, fetchErr)
		s.metrics.RecordFetchRun("error")
		return false, fetchErr
	}

	items = s.dedup.FilterNewsItems(items)

	ttl := time.Duration(src.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = s.cfg.DefaultCacheTTL
	}
	entry := entity.CacheEntry{Key: src.CacheKey(), Items: items, StoredAt: time.Now()}
	if err := s.cache.SetEntry(ctx, entry, ttl); err != nil {
		s.logger.Error("cache write-through failed", slog.String("source_id", sourceID), slog.Any("error", err))
	}

	s.recordSuccess(ctx, src, elapsed, len(items))
	s.metrics.RecordFetchRun("success")
	s.metrics.RecordItemsFetched(len(items))
	return true, nil
}

func (s *Scheduler) recordSuccess(ctx context.Context, src *entity.Source, elapsed time.Duration, newsCount int) {
	s.stats.RecordSuccess(ctx, src.SourceID, entity.APITypeInternal, elapsed, newsCount)

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateFor(src.SourceID)
	now := time.Now()
	st.LastSuccess = &now
	st.LastError = ""
	st.ConsecutiveFailures = 0
	st.RecentNewsCounts = appendBounded(st.RecentNewsCounts, newsCount, s.cfg.ActivityNormalizationWindow)
	st.NextDue = now.Add(s.nextInterval(src, st))
}

func (s *Scheduler) recordFailure(ctx context.Context, src *entity.Source, elapsed time.Duration, fetchErr error) {
	s.stats.RecordError(ctx, src.SourceID, entity.APITypeInternal, elapsed, fetchErr)

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stateFor(src.SourceID)
	st.LastError = fetchErr.Error()
	st.ConsecutiveFailures++
	st.NextDue = time.Now().Add(s.nextInterval(src, st))
}

func (s *Scheduler) stateFor(sourceID string) *SourceState {
	st, ok := s.state[sourceID]
	if !ok {
		st = &SourceState{SourceID: sourceID}
		s.state[sourceID] = st
	}
	return st
}

// nextInterval implements the adaptive-interval formula: clamp(base ×
// (1 + k_fail × consecutive_failures) × (1 - k_activity ×
// normalized_recent_news_count), min_interval, max_interval). Must be
// called with s.mu held.
func (s *Scheduler) nextInterval(src *entity.Source, st *SourceState) time.Duration {
	base := time.Duration(src.UpdateIntervalSeconds) * time.Second
	if base <= 0 {
		base = s.cfg.DefaultUpdateInterval
	}

	normalizedActivity := normalizedRecentNewsCount(st.RecentNewsCounts, s.cfg.ActivityNormalizationWindow)
	factor := (1 + s.cfg.KFail*float64(st.ConsecutiveFailures)) * (1 - s.cfg.KActivity*normalizedActivity)
	if factor < 0 {
		factor = 0
	}

	interval := time.Duration(float64(base) * factor)
	if interval < s.cfg.MinInterval {
		interval = s.cfg.MinInterval
	}
	if interval > s.cfg.MaxInterval {
		interval = s.cfg.MaxInterval
	}
	return interval
}

// normalizedRecentNewsCount averages the tracked recent-news-count samples
// and scales them into [0, 1] against the configured normalization window.
func normalizedRecentNewsCount(counts []int, window int) float64 {
	if len(counts) == 0 || window <= 0 {
		return 0
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	avg := float64(total) / float64(len(counts))
	normalized := avg / float64(window)
	if normalized > 1 {
		normalized = 1
	}
	return normalized
}

// appendBounded appends to a ring-style slice of recent news counts,
// keeping at most `window` samples.
func appendBounded(counts []int, value, window int) []int {
	if window <= 0 {
		window = 1
	}
	counts = append(counts, value)
	if len(counts) > window {
		counts = counts[len(counts)-window:]
	}
	return counts
}

// Status returns a point-in-time snapshot of every tracked source's
// scheduling state.
func (s *Scheduler) Status() []SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SourceState, 0, len(s.state))
	ids := make([]string, 0, len(s.state))
	for id := range s.state {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		st := s.state[id]
		copied := *st
		copied.RecentNewsCounts = append([]int(nil), st.RecentNewsCounts...)
		out = append(out, copied)
	}
	return out
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsfeed/internal/domain/entity"
)

type fakeSources struct {
	mu      sync.Mutex
	sources map[string]*entity.Source
}

func newFakeSources(sources ...*entity.Source) *fakeSources {
	m := make(map[string]*entity.Source, len(sources))
	for _, s := range sources {
		m[s.SourceID] = s
	}
	return &fakeSources{sources: m}
}

func (f *fakeSources) ListActive(ctx context.Context) ([]*entity.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*entity.Source, 0, len(f.sources))
	for _, s := range f.sources {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeSources) Get(ctx context.Context, sourceID string) (*entity.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sources[sourceID]
	if !ok {
		return nil, fmt.Errorf("no such source: %s", sourceID)
	}
	return s, nil
}

// fakeAdapter returns a fixed item list, counting invocations and optionally
// blocking until released — used to exercise the single-flight collapse.
type fakeAdapter struct {
	mu       sync.Mutex
	calls    int32
	items    []entity.NewsItem
	err      error
	release  chan struct{}
	useBlock bool
}

func (a *fakeAdapter) Fetch(ctx context.Context, force bool) ([]entity.NewsItem, error) {
	atomic.AddInt32(&a.calls, 1)
	if a.useBlock {
		select {
		case <-a.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	return a.items, nil
}

type fakeAdapterFactory struct {
	adapter Adapter
}

func (f *fakeAdapterFactory) Adapter(src *entity.Source) (Adapter, error) {
	return f.adapter, nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]entity.CacheEntry
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]entity.CacheEntry)}
}

func (f *fakeCache) SetEntry(ctx context.Context, entry entity.CacheEntry, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entry.Key] = entry
	return nil
}

type fakeStats struct {
	mu       sync.Mutex
	successN int
	errorN   int
}

func (f *fakeStats) RecordSuccess(ctx context.Context, sourceID string, apiType entity.APIType, elapsed time.Duration, newsCount int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successN++
}

func (f *fakeStats) RecordError(ctx context.Context, sourceID string, apiType entity.APIType, elapsed time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errorN++
}

func testSource(id string, updateInterval, cacheTTL int) *entity.Source {
	return &entity.Source{
		SourceID:              id,
		Type:                  entity.SourceTypeRSS,
		Status:                entity.SourceStatusActive,
		UpdateIntervalSeconds: updateInterval,
		CacheTTLSeconds:       cacheTTL,
	}
}

func newTestScheduler(t *testing.T, src *entity.Source, adapter *fakeAdapter) (*Scheduler, *fakeCache, *fakeStats) {
	t.Helper()
	cache := newFakeCache()
	stats := &fakeStats{}
	cfg := DefaultConfig()
	sched := New(cfg, NewMetrics(), newFakeSources(src), &fakeAdapterFactory{adapter: adapter}, cache, stats, nil)
	return sched, cache, stats
}

func TestScheduler_Initialize_MarksSourcesDueImmediately(t *testing.T) {
	src := testSource("s1", 600, 60)
	sched, _, _ := newTestScheduler(t, src, &fakeAdapter{})

	require.NoError(t, sched.Initialize(context.Background()))

	status := sched.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "s1", status[0].SourceID)
	assert.False(t, status[0].NextDue.After(time.Now()))
}

func TestScheduler_FetchSource_Success_StoresCacheAndStats(t *testing.T) {
	src := testSource("s1", 600, 60)
	adapter := &fakeAdapter{items: []entity.NewsItem{{ID: "a", SourceID: "s1", Title: "T"}}}
	sched, cache, stats := newTestScheduler(t, src, adapter)
	require.NoError(t, sched.Initialize(context.Background()))

	ok, err := sched.FetchSource(context.Background(), "s1", true)
	require.NoError(t, err)
	assert.True(t, ok)

	entry, found := cache.entries["source:s1"]
	require.True(t, found)
	assert.Len(t, entry.Items, 1)

	assert.Equal(t, 1, stats.successN)
}

func TestScheduler_FetchSource_Success_DedupsAcrossFetches(t *testing.T) {
	src := testSource("s1", 600, 60)
	adapter := &fakeAdapter{items: []entity.NewsItem{
		{ID: "a", SourceID: "s1", Title: "Same Headline"},
		{ID: "b", SourceID: "s1", Title: "Same Headline"},
		{ID: "c", SourceID: "s1", Title: "Different Headline"},
	}}
	sched, cache, _ := newTestScheduler(t, src, adapter)
	require.NoError(t, sched.Initialize(context.Background()))

	ok, err := sched.FetchSource(context.Background(), "s1", true)
	require.NoError(t, err)
	assert.True(t, ok)

	entry, found := cache.entries["source:s1"]
	require.True(t, found)
	assert.Len(t, entry.Items, 2)

	adapter.items = []entity.NewsItem{{ID: "d", SourceID: "s1", Title: "Same Headline"}}
	ok, err = sched.FetchSource(context.Background(), "s1", true)
	require.NoError(t, err)
	assert.True(t, ok)

	entry, found = cache.entries["source:s1"]
	require.True(t, found)
	assert.Empty(t, entry.Items)
}

func TestScheduler_FetchSource_Failure_IncrementsConsecutiveFailures(t *testing.T) {
	src := testSource("s1", 600, 60)
	adapter := &fakeAdapter{err: errors.New("boom")}
	sched, _, stats := newTestScheduler(t, src, adapter)
	require.NoError(t, sched.Initialize(context.Background()))

	_, err := sched.FetchSource(context.Background(), "s1", true)
	require.Error(t, err)

	status := sched.Status()
	require.Len(t, status, 1)
	assert.Equal(t, 1, status[0].ConsecutiveFailures)
	assert.Equal(t, "boom", status[0].LastError)
	assert.Equal(t, 1, stats.errorN)
}

func TestScheduler_FetchSource_ConcurrentCallersCollapseToSingleFetch(t *testing.T) {
	src := testSource("s1", 600, 60)
	adapter := &fakeAdapter{
		items:    []entity.NewsItem{{ID: "a", SourceID: "s1", Title: "T"}},
		release:  make(chan struct{}),
		useBlock: true,
	}
	sched, _, _ := newTestScheduler(t, src, adapter)
	require.NoError(t, sched.Initialize(context.Background()))

	var wg sync.WaitGroup
	results := make([]bool, 3)
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := sched.FetchSource(context.Background(), "s1", true)
			results[i] = ok
			errs[i] = err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(adapter.release)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.True(t, results[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&adapter.calls))
}

func TestNextInterval_GrowsWithConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KFail = 0.5
	cfg.KActivity = 0
	cfg.MinInterval = time.Second
	cfg.MaxInterval = time.Hour
	sched := &Scheduler{cfg: cfg}

	src := testSource("s1", 600, 60)
	st := &SourceState{}

	base := sched.nextInterval(src, st)

	st.ConsecutiveFailures = 2
	withFailures := sched.nextInterval(src, st)

	assert.Greater(t, withFailures, base)
}

func TestNextInterval_ShrinksWithRecentActivity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KFail = 0
	cfg.KActivity = 0.5
	cfg.ActivityNormalizationWindow = 10
	cfg.MinInterval = time.Second
	cfg.MaxInterval = time.Hour
	sched := &Scheduler{cfg: cfg}

	src := testSource("s1", 600, 60)
	idle := &SourceState{}
	active := &SourceState{RecentNewsCounts: []int{10, 10, 10}}

	idleInterval := sched.nextInterval(src, idle)
	activeInterval := sched.nextInterval(src, active)

	assert.Less(t, activeInterval, idleInterval)
}

func TestNextInterval_ClampedToMinAndMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KFail = 10
	cfg.MinInterval = 2 * time.Minute
	cfg.MaxInterval = 10 * time.Minute
	sched := &Scheduler{cfg: cfg}

	src := testSource("s1", 600, 60)
	st := &SourceState{ConsecutiveFailures: 100}

	interval := sched.nextInterval(src, st)
	assert.Equal(t, cfg.MaxInterval, interval)
}

func TestScheduler_Tick_DispatchesOnlyDueSources(t *testing.T) {
	due := testSource("due", 600, 60)
	notDue := testSource("not-due", 600, 60)

	adapter := &fakeAdapter{items: []entity.NewsItem{{ID: "a", SourceID: "due", Title: "T"}}}
	cache := newFakeCache()
	stats := &fakeStats{}
	cfg := DefaultConfig()
	sched := New(cfg, NewMetrics(), newFakeSources(due, notDue), &fakeAdapterFactory{adapter: adapter}, cache, stats, nil)

	sched.mu.Lock()
	sched.state["due"] = &SourceState{SourceID: "due", NextDue: time.Now().Add(-time.Minute)}
	sched.state["not-due"] = &SourceState{SourceID: "not-due", NextDue: time.Now().Add(time.Hour)}
	sched.mu.Unlock()

	require.NoError(t, sched.tick(context.Background()))

	_, ok := cache.entries["source:due"]
	assert.True(t, ok)
	_, ok = cache.entries["source:not-due"]
	assert.False(t, ok)
}

// Package cache implements the two-tier Cache Manager: a bounded in-process
// tier backed by dgraph-io/ristretto, and a remote KV tier backed by Redis.
// Remote is authoritative; memory holds a subset populated on read-through.
package cache

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
)

// RemoteTier is the authoritative KV store. Implemented by RedisTier; a
// no-op or in-memory fake may be substituted in tests.
type RemoteTier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Stats reports Cache Manager hit/miss and occupancy counters.
type Stats struct {
	Hits       int64
	Misses     int64
	MemoryUsed int64
	TotalKeys  int64
}

// Manager is the Cache Manager. Reads check memory then remote; a remote hit
// populates memory. Writes go to both tiers; deletes remove from both.
type Manager struct {
	memory *ristretto.Cache
	remote RemoteTier

	memoryTTL map[string]time.Time
	mu        sync.Mutex

	hits   int64
	misses int64
}

// Config controls the memory tier's bound and default TTL behavior.
type Config struct {
	// MemoryMaxCost bounds the in-process tier's total cost (bytes,
	// approximately, since items cost their serialized length).
	MemoryMaxCost int64
	// MemoryNumCounters sizes ristretto's admission-frequency sketch;
	// ristretto recommends ~10x the expected number of distinct keys.
	MemoryNumCounters int64
}

// DefaultConfig returns sane defaults for a moderate-size news catalog.
func DefaultConfig() Config {
	return Config{
		MemoryMaxCost:     64 << 20, // 64MB
		MemoryNumCounters: 1e6,
	}
}

// New builds a Manager. remote may be nil to run memory-only (degraded mode
// when the remote tier is unreachable at startup); see entity.ErrCacheUnavailable.
func New(cfg Config, remote RemoteTier) (*Manager, error) {
	memCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MemoryNumCounters,
		MaxCost:     cfg.MemoryMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Manager{
		memory:    memCache,
		remote:    remote,
		memoryTTL: make(map[string]time.Time),
	}, nil
}

// Get implements the read path: memory → remote, populating memory on a
// remote hit. Reads are lock-free on the memory tier (ristretto's own
// design); the per-key memoryTTL bookkeeping uses a short critical section.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := m.memory.Get(key); ok {
		if !m.memoryExpired(key) {
			atomic.AddInt64(&m.hits, 1)
			return v.([]byte), true
		}
		m.memory.Del(key)
	}

	if m.remote == nil {
		atomic.AddInt64(&m.misses, 1)
		return nil, false
	}

	v, ok, err := m.remote.Get(ctx, key)
	if err != nil || !ok {
		atomic.AddInt64(&m.misses, 1)
		return nil, false
	}

	ttl, _ := m.remote.TTL(ctx, key)
	m.populateMemory(key, v, ttl)
	atomic.AddInt64(&m.hits, 1)
	return v, true
}

// Set writes to both tiers. Remote writes do not block concurrent readers of
// unrelated keys; memory writes are synchronized per-key via ristretto's own
// internals plus our TTL bookkeeping mutex.
func (m *Manager) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	m.populateMemory(key, value, ttl)
	if m.remote != nil {
		_ = m.remote.Set(ctx, key, value, ttl)
	}
}

// Delete removes key from both tiers.
func (m *Manager) Delete(ctx context.Context, key string) {
	m.memory.Del(key)
	m.mu.Lock()
	delete(m.memoryTTL, key)
	m.mu.Unlock()
	if m.remote != nil {
		_ = m.remote.Delete(ctx, key)
	}
}

// Clear removes all keys matching a glob-style pattern. The memory tier
// offers no key enumeration, so a Clear wipes it entirely — a safe
// over-approximation that preserves the "memory ⊆ remote" invariant (the
// empty set is a subset of anything) at the cost of extra cache misses.
func (m *Manager) Clear(ctx context.Context, pattern string) error {
	m.memory.Clear()
	m.mu.Lock()
	m.memoryTTL = make(map[string]time.Time)
	m.mu.Unlock()

	if m.remote == nil {
		return nil
	}
	keys, err := m.remote.Keys(ctx, pattern)
	if err != nil {
		return err
	}
	for _, k := range keys {
		_ = m.remote.Delete(ctx, k)
	}
	return nil
}

// Exists reports whether key is present in either tier.
func (m *Manager) Exists(ctx context.Context, key string) bool {
	if _, ok := m.memory.Get(key); ok && !m.memoryExpired(key) {
		return true
	}
	if m.remote == nil {
		return false
	}
	_, ok, err := m.remote.Get(ctx, key)
	return err == nil && ok
}

// TTL returns seconds remaining, or -1 if the key is absent or has no TTL.
func (m *Manager) TTL(ctx context.Context, key string) time.Duration {
	m.mu.Lock()
	expiry, ok := m.memoryTTL[key]
	m.mu.Unlock()
	if ok {
		if remaining := time.Until(expiry); remaining > 0 {
			return remaining
		}
	}
	if m.remote == nil {
		return -1 * time.Second
	}
	ttl, err := m.remote.TTL(ctx, key)
	if err != nil {
		return -1 * time.Second
	}
	return ttl
}

// StatsSnapshot reports cumulative hit/miss counters and rough memory
// occupancy.
func (m *Manager) StatsSnapshot() Stats {
	metrics := m.memory.Metrics
	return Stats{
		Hits:       atomic.LoadInt64(&m.hits),
		Misses:     atomic.LoadInt64(&m.misses),
		MemoryUsed: int64(metrics.CostAdded() - metrics.CostEvicted()),
		TotalKeys:  int64(metrics.KeysAdded() - metrics.KeysEvicted()),
	}
}

func (m *Manager) populateMemory(key string, value []byte, ttl time.Duration) {
	cost := int64(len(value))
	if ttl > 0 {
		m.memory.SetWithTTL(key, value, cost, ttl)
		m.mu.Lock()
		m.memoryTTL[key] = time.Now().Add(ttl)
		m.mu.Unlock()
	} else {
		m.memory.Set(key, value, cost)
		m.mu.Lock()
		delete(m.memoryTTL, key)
		m.mu.Unlock()
	}
}

func (m *Manager) memoryExpired(key string) bool {
	m.mu.Lock()
	expiry, ok := m.memoryTTL[key]
	m.mu.Unlock()
	return ok && !time.Now().Before(expiry)
}

// Keys lists remote-tier keys matching a glob-style pattern, for the cache
// inspection surface. It reports the authoritative (remote) key set rather
// than the memory tier's subset; with no remote configured it returns an
// empty list rather than an error.
func (m *Manager) Keys(ctx context.Context, pattern string) ([]string, error) {
	if m.remote == nil {
		return nil, nil
	}
	return m.remote.Keys(ctx, pattern)
}

// MatchGlob reports whether name matches a shell glob pattern, used by fake
// RemoteTier implementations in tests (the Redis tier delegates to Redis's
// own KEYS/SCAN MATCH semantics instead).
func MatchGlob(pattern, name string) bool {
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}

// Package adapter provides the shared Fetch contract every Source Adapter
// family (internal/adapter/htmladapter, jsonapi, rssadapter, browseradapter)
// builds on: a unified cache+freshness check backed by the Cache Manager,
// and single-flight collapse of concurrent callers for the same source.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"newsfeed/internal/domain/entity"
)

// validate is shared by every adapter family's Config struct: New() calls
// ValidateConfig instead of hand-rolled presence checks, driven by each
// family's `validate:"..."` struct tags.
var validate = validator.New()

// ValidateConfig runs struct-tag validation over a decoded per-family
// Config (jsonapi.Config, htmladapter.Config, rssadapter.Config,
// browseradapter.Config), returning validator's field-level error on the
// first unmet rule.
func ValidateConfig(cfg any) error {
	return validate.Struct(cfg)
}

// DefaultFamilyRateLimit is the per-adapter-family outbound request rate:
// every source instance of a given family (RSS, API, HTML, Browser) shares
// one limiter at this rate so one noisy or high-cardinality family doesn't
// starve the others' fair share of outbound connections.
const DefaultFamilyRateLimit = 20

// NewFamilyLimiter builds the shared rate.Limiter for one adapter family, at
// DefaultFamilyRateLimit requests/sec with a matching burst.
func NewFamilyLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(DefaultFamilyRateLimit), DefaultFamilyRateLimit)
}

// Store is the subset of the Cache Manager an adapter needs. It is the same
// storage a higher-level get_news HTTP path reads from — the adapter and the
// API handler observe one cache, not two divergent ones.
type Store interface {
	GetEntry(ctx context.Context, key string) (*entity.CacheEntry, bool)
	SetEntry(ctx context.Context, entry entity.CacheEntry, ttl time.Duration) error
}

// FetchFunc performs the family-specific network fetch and parse for one
// source, returning normalized items.
type FetchFunc func(ctx context.Context) ([]entity.NewsItem, error)

// FetchError classifies an exhausted adapter failure.
type FetchError struct {
	Kind     string
	SourceID string
	Cause    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.SourceID, e.Kind, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// Base implements the common Fetch(ctx, force) contract: freshness check
// against the shared Cache Manager, single-flight collapse per source, and
// fall-back to the last cached value on a post-fetch parse failure.
type Base struct {
	sourceID string
	cacheKey string
	ttl      time.Duration
	store    Store
	fetch    FetchFunc
	group    *singleflight.Group
	log      *slog.Logger
}

// New builds a Base for one source. fetch performs the family-specific
// network round trip; store is the shared Cache Manager.
func New(source *entity.Source, store Store, fetch FetchFunc, log *slog.Logger) *Base {
	if log == nil {
		log = slog.Default()
	}
	return &Base{
		sourceID: source.SourceID,
		cacheKey: source.CacheKey(),
		ttl:      time.Duration(source.CacheTTLSeconds) * time.Second,
		store:    store,
		fetch:    fetch,
		group:    &singleflight.Group{},
		log:      log,
	}
}

// Fetch implements the shared contract: a fresh cache entry short-circuits
// the network when force is false; otherwise concurrent callers for this
// source collapse onto a single in-flight fetch via singleflight, all
// observing the same result.
func (b *Base) Fetch(ctx context.Context, force bool) ([]entity.NewsItem, error) {
	if !force {
		if entry, ok := b.store.GetEntry(ctx, b.cacheKey); ok && entry.Fresh(b.ttl, time.Now()) {
			return entry.Items, nil
		}
	}

	v, err, _ := b.group.Do(b.cacheKey, func() (any, error) {
		return b.doFetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]entity.NewsItem), nil
}

func (b *Base) doFetch(ctx context.Context) ([]entity.NewsItem, error) {
	items, err := b.fetch(ctx)
	if err != nil {
		return b.fallbackOrFail(ctx, "network", err)
	}

	for i := range items {
		if verr := items[i].Validate(); verr != nil {
			return b.fallbackOrFail(ctx, "parse", verr)
		}
	}

	if err := b.store.SetEntry(ctx, entity.CacheEntry{Key: b.cacheKey, Items: items, StoredAt: time.Now()}, b.ttl); err != nil {
		b.log.Warn("adapter: cache store failed", slog.String("source_id", b.sourceID), slog.Any("error", err))
	}
	return items, nil
}

// fallbackOrFail implements the parse-failure contract: return the last
// known cached value (if any) rather than raising, otherwise propagate a
// classified FetchError.
func (b *Base) fallbackOrFail(ctx context.Context, kind string, cause error) ([]entity.NewsItem, error) {
	if entry, ok := b.store.GetEntry(ctx, b.cacheKey); ok {
		b.log.Warn("adapter: fetch failed, serving last cached value",
			slog.String("source_id", b.sourceID), slog.String("kind", kind), slog.Any("error", cause))
		return entry.Items, nil
	}
	return nil, &FetchError{Kind: kind, SourceID: b.sourceID, Cause: cause}
}

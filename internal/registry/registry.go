// Package registry implements the Source Registry: the catalog of known
// sources, served from a relational store with a compiled-in fallback for
// when that store is unreachable at startup.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"newsfeed/internal/domain/entity"
	"newsfeed/internal/repository"
)

// AdapterBuilder constructs a fetch adapter for one source. Registered per
// entity.SourceType in an explicit compile-time table (see adapters.go)
// rather than discovered dynamically — the table is the only place a new
// source type needs to be wired in.
type AdapterBuilder func(source *entity.Source) (Adapter, error)

// Adapter is the subset of internal/scheduler.Adapter the Registry depends
// on; duplicated here rather than imported to keep internal/registry free of
// a dependency on internal/scheduler.
type Adapter interface {
	Fetch(ctx context.Context, force bool) ([]entity.NewsItem, error)
}

// Registry is the Source Registry: an in-memory catalog snapshot backed by
// repository.SourceRepository, refreshed on RefreshCatalog and read without
// touching the store on every call.
type Registry struct {
	repo     repository.SourceRepository
	builders map[entity.SourceType]AdapterBuilder
	log      *slog.Logger

	mu       sync.RWMutex
	byID     map[string]*entity.Source
	fallback bool
}

// New builds a Registry. builders maps each source type this deployment
// knows how to fetch to its adapter constructor.
func New(repo repository.SourceRepository, builders map[entity.SourceType]AdapterBuilder, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		repo:     repo,
		builders: builders,
		log:      log,
		byID:     make(map[string]*entity.Source),
	}
}

// LoadCatalog populates the in-memory snapshot from the metadata store. If
// the store is unreachable, it falls back to the compiled-in static catalog
// (see fallback.go) rather than starting with an empty registry.
func (r *Registry) LoadCatalog(ctx context.Context) error {
	sources, err := r.repo.List(ctx)
	if err != nil {
		r.log.Warn("registry: metadata store unreachable, using local fallback catalog", slog.Any("error", err))
		return r.loadFallback()
	}
	r.replace(sources)
	r.mu.Lock()
	r.fallback = false
	r.mu.Unlock()
	return nil
}

func (r *Registry) loadFallback() error {
	sources, err := LoadStaticCatalog()
	if err != nil {
		return fmt.Errorf("registry: load fallback catalog: %w", err)
	}
	r.replace(sources)
	r.mu.Lock()
	r.fallback = true
	r.mu.Unlock()
	return nil
}

func (r *Registry) replace(sources []*entity.Source) {
	byID := make(map[string]*entity.Source, len(sources))
	for _, s := range sources {
		byID[s.SourceID] = s
	}
	r.mu.Lock()
	r.byID = byID
	r.mu.Unlock()
}

// IsFallback reports whether the current snapshot came from the compiled-in
// static catalog rather than the metadata store.
func (r *Registry) IsFallback() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

// Get returns one source by id, or nil if unknown.
func (r *Registry) Get(ctx context.Context, sourceID string) (*entity.Source, error) {
	r.mu.RLock()
	s, ok := r.byID[sourceID]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return s, nil
}

// ListActive satisfies scheduler.SourceProvider: only ACTIVE sources are
// dispatched for periodic fetch.
func (r *Registry) ListActive(ctx context.Context) ([]*entity.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.Source, 0, len(r.byID))
	for _, s := range r.byID {
		if s.Status == entity.SourceStatusActive {
			out = append(out, s)
		}
	}
	return out, nil
}

// All returns every catalog entry regardless of status.
func (r *Registry) All(ctx context.Context) ([]*entity.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.Source, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out, nil
}

// ByCategory, ByCountry and ByLanguage filter the in-memory snapshot; they
// never touch the store, matching Get/All/ListActive.
func (r *Registry) ByCategory(ctx context.Context, category string) ([]*entity.Source, error) {
	return r.filter(func(s *entity.Source) bool { return s.Category == category }), nil
}

func (r *Registry) ByCountry(ctx context.Context, country string) ([]*entity.Source, error) {
	return r.filter(func(s *entity.Source) bool { return s.Country == country }), nil
}

func (r *Registry) ByLanguage(ctx context.Context, language string) ([]*entity.Source, error) {
	return r.filter(func(s *entity.Source) bool { return s.Language == language }), nil
}

func (r *Registry) filter(pred func(*entity.Source) bool) []*entity.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entity.Source, 0)
	for _, s := range r.byID {
		if pred(s) {
			out = append(out, s)
		}
	}
	return out
}

// Search proxies to the store's keyword search when available, falling back
// to an in-memory substring scan over the current snapshot when running in
// fallback mode (the static catalog never touches the store).
func (r *Registry) Search(ctx context.Context, keyword string) ([]*entity.Source, error) {
	if !r.IsFallback() {
		sources, err := r.repo.Search(ctx, keyword)
		if err == nil {
			return sources, nil
		}
		r.log.Warn("registry: search fell through to snapshot scan", slog.Any("error", err))
	}
	return r.filter(func(s *entity.Source) bool {
		return containsFold(s.Name, keyword) || containsFold(s.Description, keyword)
	}), nil
}

// RefreshCatalog reloads the store and diffs it against the current
// snapshot: sources removed from the store are marked INACTIVE in the
// in-memory snapshot rather than evicted outright, so any cached items under
// their key remain servable until the Cache Manager's own TTL expires them.
func (r *Registry) RefreshCatalog(ctx context.Context) (added, updated, removed int, err error) {
	fresh, err := r.repo.List(ctx)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("registry: refresh: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	freshByID := make(map[string]*entity.Source, len(fresh))
	for _, s := range fresh {
		freshByID[s.SourceID] = s
		if _, existed := r.byID[s.SourceID]; existed {
			updated++
		} else {
			added++
		}
	}
	for id, old := range r.byID {
		if _, stillPresent := freshByID[id]; !stillPresent {
			inactive := *old
			inactive.Status = entity.SourceStatusInactive
			freshByID[id] = &inactive
			removed++
		}
	}

	r.byID = freshByID
	r.fallback = false
	return added, updated, removed, nil
}

// Adapter resolves the fetch adapter for a source via the compile-time
// builder table, satisfying scheduler.AdapterFactory. Returns an error for
// an unregistered source type rather than guessing a default family.
func (r *Registry) Adapter(source *entity.Source) (Adapter, error) {
	builder, ok := r.builders[source.Type]
	if !ok {
		return nil, fmt.Errorf("registry: no adapter builder registered for type %q (source %s)", source.Type, source.SourceID)
	}
	return builder(source)
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

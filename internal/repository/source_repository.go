package repository

import (
	"context"
	"time"

	"newsfeed/internal/domain/entity"
)

// SourceRepository is the catalog store: the Registry's only collaborator.
// Implementations must treat news items themselves as out of scope — the
// core persists only source metadata, never articles.
type SourceRepository interface {
	Get(ctx context.Context, sourceID string) (*entity.Source, error)
	List(ctx context.Context) ([]*entity.Source, error)
	ListActive(ctx context.Context) ([]*entity.Source, error)
	ByCategory(ctx context.Context, category string) ([]*entity.Source, error)
	ByCountry(ctx context.Context, country string) ([]*entity.Source, error)
	ByLanguage(ctx context.Context, language string) ([]*entity.Source, error)
	Search(ctx context.Context, keyword string) ([]*entity.Source, error)
	Create(ctx context.Context, source *entity.Source) error
	Update(ctx context.Context, source *entity.Source) error
	Delete(ctx context.Context, sourceID string) error

	// TouchStatus records the outcome of a fetch against the core's own
	// tables: status, last_updated, last_error, news_count. This is the only
	// mutation the core makes outside of appending to source_stats.
	TouchStatus(ctx context.Context, sourceID string, status entity.SourceStatus, lastError string, newsCount int) error
}

// StatsRepository is the append-only source_stats history store.
type StatsRepository interface {
	// AppendFlush writes one history row for (source_id, api_type); never
	// overwrites a prior row — flush history is append-only.
	AppendFlush(ctx context.Context, stats *entity.SourceStats, flushedAt time.Time) error

	// LatestBySource returns the most recently flushed row per api_type for
	// a source, used to serve the stats HTTP operation without re-deriving
	// from the full history.
	LatestBySource(ctx context.Context, sourceID string) ([]*entity.SourceStats, error)
}

// ProxyConfig is one row of the proxy_configs catalog table.
type ProxyConfig struct {
	ID              int64
	Name            string
	Protocol        string
	Host            string
	Port            int
	Username        string
	Password        string
	Group           string
	Status          string
	Priority        int
	AvgResponseTime time.Duration
	LastCheckTime   *time.Time
	LastError       string
}

// ProxyRepository is the proxy_configs catalog store consulted by the Proxy
// Manager on refresh and health-check cycles.
type ProxyRepository interface {
	List(ctx context.Context) ([]*ProxyConfig, error)
	ByGroup(ctx context.Context, group string) ([]*ProxyConfig, error)
	UpdateHealth(ctx context.Context, id int64, status string, avgResponseTime time.Duration, lastError string) error
}

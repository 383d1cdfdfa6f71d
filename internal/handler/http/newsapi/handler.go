// Package newsapi implements the HTTP operations table the core exposes:
// list sources, get source/category news, search, hot topics, unified news,
// stats, refresh, and cache inspection. It wires internal/registry,
// internal/cache, internal/scheduler, internal/aggregator and internal/stats
// together; it holds no business logic of its own beyond request parsing and
// response shaping.
package newsapi

import (
	"log/slog"

	"newsfeed/internal/aggregator"
	"newsfeed/internal/cache"
	"newsfeed/internal/common/pagination"
	"newsfeed/internal/registry"
	"newsfeed/internal/scheduler"
	"newsfeed/internal/stats"
)

// Handler serves the news API operations table. All fields are
// required; Handler holds no state of its own.
type Handler struct {
	Registry   *registry.Registry
	Cache      *cache.Manager
	Scheduler  *scheduler.Scheduler
	Aggregator *aggregator.Aggregator
	Stats      *stats.Collector
	Pagination pagination.Config
	Logger     *slog.Logger
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

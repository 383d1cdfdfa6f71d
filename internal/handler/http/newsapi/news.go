package newsapi

import (
	"errors"
	"net/http"

	"newsfeed/internal/adapter"
	"newsfeed/internal/domain/entity"
	"newsfeed/internal/handler/http/respond"
)

func parseForce(r *http.Request) bool {
	return r.URL.Query().Get("force") == "true"
}

// GetSourceNews serves "get source news": source_id, force → array of
// NewsItem. A fetch (or cache hit, per force) runs through the Scheduler so
// this path and the background scheduler loop observe one cache.
func (h *Handler) GetSourceNews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sourceID := r.PathValue("source_id")

	src, err := h.Registry.Get(ctx, sourceID)
	if err != nil {
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}
	if src == nil {
		respond.Error(w, http.StatusNotFound, entity.ErrNoSuchSource)
		return
	}

	_, fetchErr := h.Scheduler.FetchSource(ctx, sourceID, parseForce(r))
	if fetchErr != nil {
		h.logger().Warn("get source news: fetch failed, serving cache if present", "source_id", sourceID, "error", fetchErr)
	}

	entry, ok := h.Cache.GetEntry(ctx, src.CacheKey())
	if !ok {
		var fe *adapter.FetchError
		if errors.As(fetchErr, &fe) {
			respond.Error(w, http.StatusBadGateway, fe)
			return
		}
		respond.JSON(w, http.StatusOK, newNewsItemDTOs(nil))
		return
	}
	respond.JSON(w, http.StatusOK, newNewsItemDTOs(entry.Items))
}

// GetCategoryNews serves "get category news": category, force → map
// source_id → array of NewsItem.
func (h *Handler) GetCategoryNews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	category := r.PathValue("category")
	force := parseForce(r)

	sources, err := h.Registry.ByCategory(ctx, category)
	if err != nil {
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make(map[string][]NewsItemDTO, len(sources))
	for _, src := range sources {
		if _, err := h.Scheduler.FetchSource(ctx, src.SourceID, force); err != nil {
			h.logger().Warn("get category news: fetch failed, serving cache if present",
				"source_id", src.SourceID, "error", err)
		}
		entry, ok := h.Cache.GetEntry(ctx, src.CacheKey())
		if !ok {
			out[src.SourceID] = []NewsItemDTO{}
			continue
		}
		out[src.SourceID] = newNewsItemDTOs(entry.Items)
	}
	respond.JSON(w, http.StatusOK, out)
}

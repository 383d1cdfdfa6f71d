package newsapi

import (
	"net/http"

	"newsfeed/internal/handler/http/respond"
)

// CacheStatsDTO is the wire shape for "cache stats".
type CacheStatsDTO struct {
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	MemoryUsed int64 `json:"memory_used_bytes"`
	TotalKeys  int64 `json:"total_keys"`
}

// CacheStats serves "cache stats".
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	snap := h.Cache.StatsSnapshot()
	respond.JSON(w, http.StatusOK, CacheStatsDTO{
		Hits:       snap.Hits,
		Misses:     snap.Misses,
		MemoryUsed: snap.MemoryUsed,
		TotalKeys:  snap.TotalKeys,
	})
}

// CacheClear serves "cache clear": pattern (glob-style; defaults to "*").
func (h *Handler) CacheClear(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}
	if err := h.Cache.Clear(r.Context(), pattern); err != nil {
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]string{"pattern": pattern, "status": "cleared"})
}

// CacheKeys serves "cache keys": pattern (glob-style; defaults to "*").
func (h *Handler) CacheKeys(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}
	keys, err := h.Cache.Keys(r.Context(), pattern)
	if err != nil {
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"pattern": pattern, "keys": keys})
}

// CacheSourceDetailDTO is the wire shape for "cache source-detail".
type CacheSourceDetailDTO struct {
	SourceID string        `json:"source_id"`
	Exists   bool          `json:"exists"`
	TTL      string        `json:"ttl,omitempty"`
	Items    []NewsItemDTO `json:"items,omitempty"`
}

// CacheSourceDetail serves "cache source-detail": the cache entry for one
// source, including item count and remaining TTL.
func (h *Handler) CacheSourceDetail(w http.ResponseWriter, r *http.Request) {
	sourceID := r.PathValue("source_id")
	key := "source:" + sourceID
	ctx := r.Context()

	if !h.Cache.Exists(ctx, key) {
		respond.JSON(w, http.StatusOK, CacheSourceDetailDTO{SourceID: sourceID, Exists: false})
		return
	}

	detail := CacheSourceDetailDTO{SourceID: sourceID, Exists: true, TTL: h.Cache.TTL(ctx, key).String()}
	if entry, ok := h.Cache.GetEntry(ctx, key); ok {
		detail.Items = newNewsItemDTOs(entry.Items)
	}
	respond.JSON(w, http.StatusOK, detail)
}

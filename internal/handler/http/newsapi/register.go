package newsapi

import "net/http"

// Register wires every news API operation onto mux.
func Register(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("GET /sources", h.ListSources)
	mux.HandleFunc("GET /sources/{source_id}/news", h.GetSourceNews)
	mux.HandleFunc("GET /categories/{category}/news", h.GetCategoryNews)
	mux.HandleFunc("GET /search", h.Search)
	mux.HandleFunc("GET /hot", h.HotTopics)
	mux.HandleFunc("GET /news", h.UnifiedNews)
	mux.HandleFunc("GET /stats", h.Stats)

	mux.HandleFunc("POST /refresh", h.RefreshAll)
	mux.HandleFunc("POST /refresh/{source_id}", h.RefreshSource)

	mux.HandleFunc("GET /cache/stats", h.CacheStats)
	mux.HandleFunc("DELETE /cache", h.CacheClear)
	mux.HandleFunc("GET /cache/keys", h.CacheKeys)
	mux.HandleFunc("GET /cache/sources/{source_id}", h.CacheSourceDetail)
}

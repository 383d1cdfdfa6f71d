package newsapi

import (
	"net/http"

	"newsfeed/internal/domain/entity"
	"newsfeed/internal/handler/http/respond"
)

// SourceStatsDTO is the wire shape for one source's latest flushed history
// row, per api_type.
type SourceStatsDTO struct {
	APIType          string  `json:"api_type"`
	TotalRequests    int64   `json:"total_requests"`
	SuccessRate      float64 `json:"success_rate"`
	AvgResponseMs    int64   `json:"avg_response_time_ms"`
	LastResponseMs   int64   `json:"last_response_time_ms"`
	NewsCount        int64   `json:"news_count"`
	LastError        string  `json:"last_error,omitempty"`
}

func newSourceStatsDTO(s *entity.SourceStats) SourceStatsDTO {
	return SourceStatsDTO{
		APIType:        string(s.APIType),
		TotalRequests:  s.TotalRequests,
		SuccessRate:    s.SuccessRate(),
		AvgResponseMs:  s.AvgResponseTime().Milliseconds(),
		LastResponseMs: s.LastResponseTime.Milliseconds(),
		NewsCount:      s.NewsCount,
		LastError:      s.LastError,
	}
}

// StatsResponse is the wire shape for "stats": source counts grouped by
// category/country/language, total news count, per-source latest.
type StatsResponse struct {
	TotalSources   int                         `json:"total_sources"`
	TotalNewsCount int                         `json:"total_news_count"`
	ByCategory     map[string]int              `json:"by_category"`
	ByCountry      map[string]int              `json:"by_country"`
	ByLanguage     map[string]int              `json:"by_language"`
	PerSource      map[string][]SourceStatsDTO `json:"per_source"`
}

// Stats serves "stats": catalog counts grouped by dimension plus each
// source's latest flushed history.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sources, err := h.Registry.All(ctx)
	if err != nil {
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := StatsResponse{
		TotalSources: len(sources),
		ByCategory:   map[string]int{},
		ByCountry:    map[string]int{},
		ByLanguage:   map[string]int{},
		PerSource:    map[string][]SourceStatsDTO{},
	}

	for _, s := range sources {
		resp.TotalNewsCount += s.NewsCount
		if s.Category != "" {
			resp.ByCategory[s.Category]++
		}
		if s.Country != "" {
			resp.ByCountry[s.Country]++
		}
		if s.Language != "" {
			resp.ByLanguage[s.Language]++
		}

		latest, err := h.Stats.LatestBySource(ctx, s.SourceID)
		if err != nil {
			h.logger().Warn("stats: latest by source failed", "source_id", s.SourceID, "error", err)
			continue
		}
		if len(latest) == 0 {
			continue
		}
		dtos := make([]SourceStatsDTO, len(latest))
		for i, row := range latest {
			dtos[i] = newSourceStatsDTO(row)
		}
		resp.PerSource[s.SourceID] = dtos
	}

	respond.JSON(w, http.StatusOK, resp)
}

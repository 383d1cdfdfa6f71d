package newsapi

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"newsfeed/internal/common/pagination"
	"newsfeed/internal/domain/entity"
	"newsfeed/internal/handler/http/respond"
)

// UnifiedResponse wraps the paginated page with the cross-cutting
// aggregations the unified news operation reports: source counts
// by the same dimensions the stats operation reports, computed over the
// filtered (pre-pagination) set so they describe what the caller is looking
// at, not the whole catalog.
type UnifiedResponse struct {
	pagination.Response[NewsItemDTO]
	Aggregations UnifiedAggregations `json:"aggregations"`
}

// UnifiedAggregations buckets the filtered item set by category, country and
// language, read off each item's Extra fields (the same fields aggregator's
// SearchFilters matches against).
type UnifiedAggregations struct {
	ByCategory map[string]int `json:"by_category,omitempty"`
	ByCountry  map[string]int `json:"by_country,omitempty"`
	ByLanguage map[string]int `json:"by_language,omitempty"`
}

func computeAggregations(items []entity.NewsItem) UnifiedAggregations {
	agg := UnifiedAggregations{
		ByCategory: map[string]int{},
		ByCountry:  map[string]int{},
		ByLanguage: map[string]int{},
	}
	for _, it := range items {
		if cat, ok := it.Extra["category"].(string); ok && cat != "" {
			agg.ByCategory[cat]++
		}
		if country, ok := it.Extra["country"].(string); ok && country != "" {
			agg.ByCountry[country]++
		}
		if lang, ok := it.Extra["language"].(string); ok && lang != "" {
			agg.ByLanguage[lang]++
		}
	}
	return agg
}

var epoch time.Time

// sortItems orders items by sortBy ("published_at" (default), "title" or
// "source_id"); sortOrder "asc" reverses the default descending order.
func sortItems(items []entity.NewsItem, sortBy, sortOrder string) {
	asc := strings.EqualFold(sortOrder, "asc")
	sort.SliceStable(items, func(i, j int) bool {
		switch sortBy {
		case "title":
			if asc {
				return items[i].Title < items[j].Title
			}
			return items[i].Title > items[j].Title
		case "source_id":
			if asc {
				return items[i].SourceID < items[j].SourceID
			}
			return items[i].SourceID > items[j].SourceID
		default:
			pi, pj := items[i].PublishedAt, items[j].PublishedAt
			ti, tj := epoch, epoch
			if pi != nil {
				ti = *pi
			}
			if pj != nil {
				tj = *pj
			}
			if asc {
				return ti.Before(tj)
			}
			return ti.After(tj)
		}
	})
}

// UnifiedNews serves "unified news": filters, page, page_size, sort_by,
// sort_order → paginated array + aggregations, grounded on the pagination
// package's offset/limit math.
func (h *Handler) UnifiedNews(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-Id")
	start := time.Now()

	params, err := pagination.ParseQueryParams(r, h.Pagination)
	if err != nil {
		pagination.LogError(h.logger(), requestID, params, err, "validation")
		respond.Error(w, http.StatusBadRequest, err)
		return
	}
	pagination.LogRequest(h.logger(), requestID, params)

	q := r.URL.Query()
	filters := searchFiltersFromQuery(q)
	items := h.Aggregator.All(filters)

	aggregations := computeAggregations(items)
	sortItems(items, q.Get("sort_by"), q.Get("sort_order"))

	total := int64(len(items))
	offset := pagination.CalculateOffset(params.Page, params.PageSize)
	page := pageSlice(items, offset, params.PageSize)

	metadata := pagination.Metadata{
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: pagination.CalculateTotalPages(total, params.PageSize),
	}

	resp := UnifiedResponse{
		Response:     pagination.NewResponse(newNewsItemDTOs(page), metadata),
		Aggregations: aggregations,
	}
	respond.JSON(w, http.StatusOK, resp)
	pagination.LogResponse(h.logger(), requestID, params, len(page), time.Since(start), http.StatusOK)
}

func pageSlice(items []entity.NewsItem, offset, size int) []entity.NewsItem {
	if offset < 0 || offset >= len(items) {
		return nil
	}
	end := offset + size
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

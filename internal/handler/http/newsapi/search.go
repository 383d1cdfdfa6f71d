package newsapi

import (
	"net/http"
	"net/url"
	"strconv"

	"newsfeed/internal/aggregator"
	"newsfeed/internal/handler/http/respond"
)

const defaultMaxResults = 20

func searchFiltersFromQuery(q url.Values) aggregator.SearchFilters {
	return aggregator.SearchFilters{
		Category: q.Get("category"),
		Country:  q.Get("country"),
		Language: q.Get("language"),
		SourceID: q.Get("source_id"),
	}
}

// Search serves "search": query, max_results, filters → array of NewsItem.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("query")
	if query == "" {
		respond.Error(w, http.StatusBadRequest, errMissingQuery)
		return
	}

	maxResults := defaultMaxResults
	if raw := q.Get("max_results"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respond.Error(w, http.StatusBadRequest, errInvalidMaxResults)
			return
		}
		maxResults = n
	}

	filters := searchFiltersFromQuery(q)
	results := h.Aggregator.Search(query, filters, maxResults)
	respond.JSON(w, http.StatusOK, newNewsItemDTOs(results))
}

var (
	errMissingQuery      = errMsg("query is required")
	errInvalidMaxResults = errMsg("max_results must be a positive integer")
)

type errMsg string

func (e errMsg) Error() string { return string(e) }

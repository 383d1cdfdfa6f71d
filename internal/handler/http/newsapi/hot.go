package newsapi

import (
	"net/http"
	"strconv"

	"newsfeed/internal/domain/entity"
	"newsfeed/internal/handler/http/respond"
)

const defaultHotLimit = 10

// HotTopics serves "hot topics": limit, optional category → array of
// Cluster, highest score first.
func (h *Handler) HotTopics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultHotLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respond.Error(w, http.StatusBadRequest, errMsg("limit must be a positive integer"))
			return
		}
		limit = n
	}

	var clusters []entity.Cluster
	if category := q.Get("category"); category != "" {
		clusters = h.Aggregator.ByCategory(category, limit)
	} else {
		clusters = h.Aggregator.Hot(limit)
	}
	respond.JSON(w, http.StatusOK, newClusterDTOs(clusters))
}

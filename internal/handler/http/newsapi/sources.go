package newsapi

import (
	"net/http"

	"newsfeed/internal/domain/entity"
	"newsfeed/internal/handler/http/respond"
)

// ListSources serves "list sources": optional category/country/language
// filters, returning the whole matching catalog slice.
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var (
		sources []*entity.Source
		err     error
	)
	switch {
	case q.Get("category") != "":
		sources, err = h.Registry.ByCategory(ctx, q.Get("category"))
	case q.Get("country") != "":
		sources, err = h.Registry.ByCountry(ctx, q.Get("country"))
	case q.Get("language") != "":
		sources, err = h.Registry.ByLanguage(ctx, q.Get("language"))
	default:
		sources, err = h.Registry.All(ctx)
	}
	if err != nil {
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}

	respond.JSON(w, http.StatusOK, degraded{Data: newSourceDTOs(sources), Degraded: h.Registry.IsFallback()})
}

package newsapi

import (
	"context"
	"net/http"
	"time"

	"newsfeed/internal/domain/entity"
	"newsfeed/internal/handler/http/respond"
)

const refreshTimeout = 2 * time.Minute

// RefreshResponse is the wire shape for "refresh all / refresh source".
type RefreshResponse struct {
	Accepted int      `json:"accepted"`
	Sources  []string `json:"sources"`
}

// RefreshAll serves "refresh all": optional force, dispatching a fetch for
// every catalog entry and returning immediately with the accepted count. The
// fetches themselves run detached from the request's context so a client
// disconnect doesn't cancel work already queued.
func (h *Handler) RefreshAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	force := parseForce(r)

	sources, err := h.Registry.All(ctx)
	if err != nil {
		respond.SafeError(w, http.StatusInternalServerError, err)
		return
	}

	ids := make([]string, len(sources))
	for i, s := range sources {
		ids[i] = s.SourceID
	}
	h.dispatchRefresh(ids, force)

	respond.JSON(w, http.StatusAccepted, RefreshResponse{Accepted: len(ids), Sources: ids})
}

// RefreshSource serves "refresh source": source_id, force.
func (h *Handler) RefreshSource(w http.ResponseWriter, r *http.Request) {
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

	h.dispatchRefresh([]string{sourceID}, parseForce(r))
	respond.JSON(w, http.StatusAccepted, RefreshResponse{Accepted: 1, Sources: []string{sourceID}})
}

func (h *Handler) dispatchRefresh(sourceIDs []string, force bool) {
	for _, id := range sourceIDs {
		id := id
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			defer cancel()
			if _, err := h.Scheduler.FetchSource(ctx, id, force); err != nil {
				h.logger().Warn("refresh: fetch failed", "source_id", id, "error", err)
			}
		}()
	}
}

package handlers

import (
	"context"
	"net/http"
	"time"
)

func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := api.jobsService.Ping(ctx); err != nil {
		api.logger.Warn("health check failed", "error", err)
		writeError(w, r, http.StatusServiceUnavailable, "store_unavailable", "store is not reachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

package api

import (
	"context"
	"net/http"
	"time"
)

const healthTimeout = 2 * time.Second

// healthCheck reports whether the primary store answers.
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := a.health.HealthCheck(ctx); err != nil {
		a.writeError(w, r, http.StatusServiceUnavailable, errorResponse{Message: "Primary store unavailable"}, err)
		return
	}
	a.respondData(w, http.StatusOK, map[string]string{"status": "ok"}, "")
}

// listLogs returns audit log entries, newest first. Admin only.
func (a *API) listLogs(w http.ResponseWriter, r *http.Request) {
	p := ParsePaginationParams(r)
	page, err := a.audit.List(r.Context(), p.Page, p.Limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.respondData(w, http.StatusOK, page, "")
}

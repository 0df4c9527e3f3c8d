package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
)

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:   "healthy",
		Listener: h.listener,
		Uptime:   time.Since(h.started).Truncate(time.Second).String(),
	})
}

// handleReady handles GET /ready. The daemon is ready when the backend
// passes its device status check.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := h.backend.DevStatus(r.Context())
	if resp != domain.ResponseSuccess {
		h.logger.Warn("backend not ready", "response", resp)
		h.writeError(w, r, http.StatusServiceUnavailable, "FV-HTTP-5030", "backend not ready: "+resp.String())
		return
	}
	h.writeJSON(w, r, http.StatusOK, ReadyStatus{Status: "ready", Response: resp.String()})
}

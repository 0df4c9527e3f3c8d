package handler

import (
	"net/http"

	"github.com/yndnr/fencevirt-go/internal/core/domain"
)

// handleHosts handles GET /v1/hosts with the backend's host list. The
// list is unfiltered; restrict the endpoint with the network allowlist.
func (h *Handler) handleHosts(w http.ResponseWriter, r *http.Request) {
	hosts := make([]Host, 0)
	resp := h.backend.HostList(r.Context(), func(s domain.HostState) error {
		hosts = append(hosts, HostOf(s))
		return nil
	})
	if resp != domain.ResponseSuccess {
		h.writeError(w, r, http.StatusBadGateway, "FV-HTTP-5020", "host list failed: "+resp.String())
		return
	}
	h.writeJSON(w, r, http.StatusOK, hosts)
}

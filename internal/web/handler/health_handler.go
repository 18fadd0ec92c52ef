package handler

import (
	"net/http"

	"github.com/lodgic/authd/internal/health"
	"github.com/lodgic/authd/internal/web/response"
)

// HandleHealth serves the readiness probe.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if h.Checker == nil {
		response.JSONResponse(w, http.StatusOK, map[string]string{"status": health.StatusHealthy})
		return
	}

	status := h.Checker.CheckHealth(r.Context())
	code := http.StatusOK
	if status.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	response.JSONResponse(w, code, status)
}

package handler

import (
	"net/http"
	"time"

	"github.com/yndnr/sabledb-go/internal/core/domain"
)

// handleHealthz handles GET /healthz. It answers 503 while any worker is
// unhealthy, or once the server started draining.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Time:    time.Now().UTC().Format(time.RFC3339),
		Workers: workerViews(h.src.WorkerStatuses()),
	}
	if !h.src.Healthy() {
		resp.Status = "unhealthy"
		h.writeError(w, r, http.StatusServiceUnavailable, domain.ErrServerBusy.Code, "worker pool unhealthy", resp)
		return
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

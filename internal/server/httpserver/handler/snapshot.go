package handler

import (
	"net/http"

	"github.com/yndnr/sabledb-go/internal/core/domain"
	"github.com/yndnr/sabledb-go/internal/infra/buildinfo"
)

// handleSnapshot handles GET /debug/snapshot.
func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	resp := SnapshotResponse{
		Build:          buildinfo.Get(),
		Stats:          h.src.Stats(),
		Workers:        workerViews(h.src.WorkerStatuses()),
		WaitingClients: h.src.WaitingClients(),
	}
	if h.keys != nil {
		n, err := h.keys.Count(r.Context())
		if err != nil {
			h.logger.Warn("key count failed", "error", err)
			h.writeError(w, r, http.StatusInternalServerError, domain.ErrStorage.Code, domain.ErrStorage.Message, err.Error())
			return
		}
		resp.KeyCount = &n
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

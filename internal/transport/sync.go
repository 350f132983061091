package transport

import (
	"net/http"

	"warimas-pos/internal/stock"
)

type stockResponse struct {
	Version uint64                 `json:"version"`
	Stock   map[string]stock.Entry `json:"stock"`
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sync.GetSyncStatus())
}

func (h *Handler) retryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.sync.RetryFailedMutations(r.Context())
	if err != nil {
		h.fail(w, r, "retryFailed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"reset": n})
}

func (h *Handler) drain(w http.ResponseWriter, r *http.Request) {
	h.sync.Trigger()
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stockResponse{
		Version: h.stock.Version(),
		Stock:   h.stock.Snapshot(),
	})
}

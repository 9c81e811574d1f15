package api

import (
	"net/http"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/dlq"
)

type statsResponse struct {
	PendingDeliveries int64 `json:"pending_deliveries"`
	FailedDeliveries  int64 `json:"failed_deliveries"`
	DLQSize           int64 `json:"dlq_size"`
	QueueDepth        int64 `json:"queue_depth"`
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := h.eng.Store()

	pendingStatus, failedStatus := delivery.StatusPending, delivery.StatusFailed
	pending, err := st.CountDeliveries(ctx, delivery.ListOpts{Status: &pendingStatus})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	failed, err := st.CountDeliveries(ctx, delivery.ListOpts{Status: &failedStatus})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	dlqCount, err := st.CountDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	depth, err := h.eng.Queue().Depth(ctx)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		PendingDeliveries: pending,
		FailedDeliveries:  failed,
		DLQSize:           dlqCount,
		QueueDepth:        depth,
	})
}

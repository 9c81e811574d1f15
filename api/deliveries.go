package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/id"
)

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, to, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	opts := delivery.ListOpts{
		Offset: p.offset(),
		Limit:  p.Limit,
		From:   from,
		To:     to,
	}
	if v := q.Get("webhook_event_id"); v != "" {
		if opts.EventID, err = id.ParseEventID(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid webhook_event_id")
			return
		}
	}
	if v := q.Get("webhook_id"); v != "" {
		if opts.WebhookID, err = id.ParseWebhookID(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid webhook_id")
			return
		}
	}
	if v := q.Get("status"); v != "" {
		status := delivery.Status(v)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "status must be one of pending, success, failed")
			return
		}
		opts.Status = &status
	}

	deliveries, err := h.eng.Store().ListDeliveries(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	total, err := h.eng.Store().CountDeliveries(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, paged(deliveries, total, p))
}

func (h *Handler) getDelivery(w http.ResponseWriter, r *http.Request) {
	delID, err := id.ParseDeliveryID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery ID")
		return
	}

	d, err := h.eng.Store().GetDelivery(r.Context(), delID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/dlq"
	"github.com/xraph/hookrelay/id"
)

func (h *Handler) listDLQ(w http.ResponseWriter, r *http.Request) {
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
	opts := dlq.ListOpts{
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

	entries, err := h.eng.DLQ().List(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	total, err := h.eng.DLQ().Count(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, paged(entries, total, p))
}

func (h *Handler) getDLQ(w http.ResponseWriter, r *http.Request) {
	dlqID, err := id.ParseDLQID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DLQ ID")
		return
	}

	entry, err := h.eng.DLQ().Get(r.Context(), dlqID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

type replayRequest struct {
	InitiatorType delivery.InitiatorType `json:"initiator_type"`
	InitiatorID   string                 `json:"initiator_id"`
}

func (h *Handler) replayDLQ(w http.ResponseWriter, r *http.Request) {
	dlqID, err := id.ParseDLQID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid DLQ ID")
		return
	}

	var req replayRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.InitiatorType {
	case "":
		req.InitiatorType = delivery.InitiatorUser
	case delivery.InitiatorUser, delivery.InitiatorSystem:
	default:
		writeError(w, http.StatusBadRequest, "initiator_type must be system or user")
		return
	}

	res, err := h.eng.Replay(r.Context(), dlqID, delivery.Initiator{
		Type: req.InitiatorType,
		ID:   req.InitiatorID,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if res.Status == dlq.ReplayAlreadySucceeded {
		writeJSON(w, http.StatusOK, res)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

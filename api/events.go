package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
)

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	var in event.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	evt, created, err := h.eng.Ingest(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	if !created {
		writeJSON(w, http.StatusOK, evt)
		return
	}
	writeJSON(w, http.StatusCreated, evt)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
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

	opts := event.ListOpts{
		Offset:   p.offset(),
		Limit:    p.Limit,
		ClientID: r.URL.Query().Get("client_id"),
		From:     from,
		To:       to,
	}
	if v := r.URL.Query().Get("webhook_id"); v != "" {
		if opts.WebhookID, err = id.ParseWebhookID(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid webhook_id")
			return
		}
	}

	events, err := h.eng.Store().ListEvents(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	total, err := h.eng.Store().CountEvents(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, paged(events, total, p))
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseEventID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	evt, err := h.eng.Store().GetEvent(r.Context(), evtID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, evt)
}

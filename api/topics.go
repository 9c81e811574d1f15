package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/topic"
)

func (h *Handler) createTopic(w http.ResponseWriter, r *http.Request) {
	var in topic.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	t, err := h.eng.Topics().Create(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) listTopics(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	topics, err := h.eng.Topics().List(r.Context(), topic.ListOpts{Offset: p.offset(), Limit: p.Limit})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	total, err := h.eng.Topics().Count(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, paged(topics, total, p))
}

func (h *Handler) getTopic(w http.ResponseWriter, r *http.Request) {
	topicID, err := id.ParseTopicID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid topic ID")
		return
	}

	t, err := h.eng.Topics().Get(r.Context(), topicID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, t)
}

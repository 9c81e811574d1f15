package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/webhook"
)

// webhookWithSecret exposes the signing secret, which is otherwise never
// serialized. Only create and rotate-secret return it.
type webhookWithSecret struct {
	*webhook.Webhook
	Secret string `json:"secret"`
}

func (h *Handler) createWebhook(w http.ResponseWriter, r *http.Request) {
	var in webhook.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wh, err := h.eng.Webhooks().Create(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, webhookWithSecret{Webhook: wh, Secret: wh.Secret})
}

func (h *Handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	p, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := webhook.ListOpts{
		Offset:   p.offset(),
		Limit:    p.Limit,
		ClientID: r.URL.Query().Get("client_id"),
	}
	if v := r.URL.Query().Get("active"); v != "" {
		active, parseErr := strconv.ParseBool(v)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "active must be true or false")
			return
		}
		opts.Active = &active
	}

	webhooks, err := h.eng.Webhooks().List(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	total, err := h.eng.Webhooks().Count(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, paged(webhooks, total, p))
}

func (h *Handler) getWebhook(w http.ResponseWriter, r *http.Request) {
	whID, err := id.ParseWebhookID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	wh, err := h.eng.Webhooks().Get(r.Context(), whID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, wh)
}

func (h *Handler) updateWebhook(w http.ResponseWriter, r *http.Request) {
	whID, err := id.ParseWebhookID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	var in webhook.UpdateInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	wh, err := h.eng.Webhooks().Update(r.Context(), whID, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, wh)
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	whID, err := id.ParseWebhookID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook ID")
		return
	}

	secret, err := h.eng.Webhooks().RotateSecret(r.Context(), whID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

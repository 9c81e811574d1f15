// Package api provides the management HTTP API for hookrelay: event ingestion,
// delivery and DLQ inspection, replay, and webhook and topic administration.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/engine"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/topic"
	"github.com/xraph/hookrelay/webhook"
)

// Paging bounds for list endpoints.
const (
	defaultLimit = 10
	maxLimit     = 100
)

// Handler is the root HTTP handler for the management API.
type Handler struct {
	eng    *engine.Engine
	logger *slog.Logger
	router chi.Router
}

// NewHandler creates a new management API handler.
func NewHandler(eng *engine.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		eng:    eng,
		logger: logger,
		router: chi.NewRouter(),
	}

	h.router.Use(h.panicRecovery, h.logging)
	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	h.router.Route("/webhook-events", func(r chi.Router) {
		r.Post("/", h.createEvent)
		r.Get("/", h.listEvents)
		r.Get("/{id}", h.getEvent)
	})

	h.router.Route("/webhook-deliveries", func(r chi.Router) {
		r.Get("/", h.listDeliveries)
		r.Get("/{id}", h.getDelivery)
	})

	h.router.Route("/webhook-dlq", func(r chi.Router) {
		r.Get("/", h.listDLQ)
		r.Get("/{id}", h.getDLQ)
		r.Post("/{id}/replay", h.replayDLQ)
	})

	h.router.Route("/webhooks", func(r chi.Router) {
		r.Post("/", h.createWebhook)
		r.Get("/", h.listWebhooks)
		r.Get("/{id}", h.getWebhook)
		r.Patch("/{id}", h.updateWebhook)
		r.Post("/{id}/rotate-secret", h.rotateSecret)
	})

	h.router.Route("/topics", func(r chi.Router) {
		r.Post("/", h.createTopic)
		r.Get("/", h.listTopics)
		r.Get("/{id}", h.getTopic)
	})

	h.router.Get("/stats", h.getStats)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// writeServiceError maps a service error to its HTTP status.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		eventErr   *event.ValidationError
		webhookErr *webhook.ValidationError
		topicErr   *topic.ValidationError
	)
	switch {
	case errors.As(err, &eventErr), errors.As(err, &webhookErr), errors.As(err, &topicErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, hookrelay.ErrWebhookNotFound),
		errors.Is(err, hookrelay.ErrTopicNotFound),
		errors.Is(err, hookrelay.ErrEventNotFound),
		errors.Is(err, hookrelay.ErrDeliveryNotFound),
		errors.Is(err, hookrelay.ErrDLQNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, hookrelay.ErrReplayInProgress),
		errors.Is(err, hookrelay.ErrDeliveryInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, hookrelay.ErrWebhookDisabled),
		errors.Is(err, hookrelay.ErrTopicDisabled),
		errors.Is(err, hookrelay.ErrPayloadValidationFailed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "api request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// Paging.

type page struct {
	Page  int
	Limit int
}

func (p page) offset() int { return (p.Page - 1) * p.Limit }

type pageMeta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
}

type pagedResponse[T any] struct {
	Data []T      `json:"data"`
	Meta pageMeta `json:"meta"`
}

func paged[T any](items []T, total int64, p page) pagedResponse[T] {
	if items == nil {
		items = []T{}
	}
	return pagedResponse[T]{
		Data: items,
		Meta: pageMeta{
			Total:      total,
			Page:       p.Page,
			Limit:      p.Limit,
			TotalPages: int(math.Ceil(float64(total) / float64(p.Limit))),
		},
	}
}

// parsePage reads page and limit. Page defaults to 1, limit to 10 (max 100).
func parsePage(r *http.Request) (page, error) {
	p := page{Page: 1, Limit: defaultLimit}
	var err error
	if p.Page, err = queryInt(r, "page", 1); err != nil || p.Page < 1 {
		return p, errors.New("page must be a positive integer")
	}
	if p.Limit, err = queryInt(r, "limit", defaultLimit); err != nil || p.Limit < 1 || p.Limit > maxLimit {
		return p, fmt.Errorf("limit must be between 1 and %d", maxLimit)
	}
	return p, nil
}

// parseDateRange reads start_date and end_date as RFC 3339 timestamps.
func parseDateRange(r *http.Request) (from, to *time.Time, err error) {
	if from, err = queryTime(r, "start_date"); err != nil {
		return nil, nil, err
	}
	if to, err = queryTime(r, "end_date"); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func queryInt(r *http.Request, key string, defaultVal int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", key)
	}
	return &t, nil
}

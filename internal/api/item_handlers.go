package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"igharvest/internal/store"
	"igharvest/pkg/models"
)

const healthTimeout = 2 * time.Second

type itemListResponse struct {
	Items []models.Product `json:"items"`
	Count int              `json:"count"`
	Total int              `json:"total"`
}

type triggerResponse struct {
	Status string `json:"status"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Session string `json:"session"`
}

// ListItems handles GET /items.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	if h.products == nil {
		writeError(w, http.StatusServiceUnavailable, "product store not configured")
		return
	}

	q := r.URL.Query()
	filter := store.ProductFilter{
		Title:      q.Get("title"),
		SourceKind: q.Get("source_kind"),
		SourceID:   q.Get("source_id"),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	items, err := h.products.ListProducts(r.Context(), filter)
	if err != nil {
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	total, err := h.products.CountProducts(r.Context())
	if err != nil {
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, itemListResponse{Items: items, Count: len(items), Total: total})
}

// GetItem handles GET /items/{id}.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	if h.products == nil {
		writeError(w, http.StatusServiceUnavailable, "product store not configured")
		return
	}
	product, err := h.products.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// TriggerRun handles POST /admin/trigger-run. The batch runs in the
// background and the request answers 202. With ?wait=true the request
// blocks and returns the summary, which can outlast server.write_timeout.
// Only one batch started over HTTP runs at a time.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not configured")
		return
	}
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !h.running.CompareAndSwap(false, true) {
		writeError(w, http.StatusConflict, "a triggered batch is already running")
		return
	}
	h.logger.InfoWithFields("Batch triggered over HTTP", map[string]interface{}{"wait": wait})

	if wait {
		defer h.running.Store(false)
		summary := h.pipeline.RunOnce(context.WithoutCancel(r.Context()))
		writeJSON(w, http.StatusOK, summary)
		return
	}

	h.jobs.Add(1)
	go func() {
		defer h.jobs.Done()
		defer h.running.Store(false)
		h.pipeline.RunOnce(h.baseCtx)
	}()
	writeJSON(w, http.StatusAccepted, triggerResponse{Status: "started"})
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			h.logger.WarnWithFields("Health check failed", map[string]interface{}{"error": err.Error()})
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Session: h.session.Status().State.String()})
}

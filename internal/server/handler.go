// Package server exposes the HTTP surface: the WebSocket endpoint, the SSE
// event stream, and a small read-only REST API for dashboards that do not
// hold a live connection.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jawaracloud/pileup-bridge/internal/bridge"
	"github.com/jawaracloud/pileup-bridge/internal/dispatch"
	"github.com/jawaracloud/pileup-bridge/internal/hub"
	"github.com/jawaracloud/pileup-bridge/internal/queue"
)

// Handler owns the HTTP endpoints.
type Handler struct {
	service  *queue.Service
	dispatch *dispatch.Dispatcher
	hub      *hub.Hub
	receiver *bridge.Receiver
	creds    dispatch.Credentials
	logger   *slog.Logger
}

// NewHandler wires the endpoints. receiver may be nil when the UDP bridge is
// not running.
func NewHandler(svc *queue.Service, d *dispatch.Dispatcher, h *hub.Hub, rx *bridge.Receiver,
	creds dispatch.Credentials, logger *slog.Logger) *Handler {
	return &Handler{
		service:  svc,
		dispatch: d,
		hub:      h,
		receiver: rx,
		creds:    creds,
		logger:   logger,
	}
}

// RegisterRoutes mounts the API endpoints on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.HandleSSE)
	r.Get("/status", h.handleStatus)
	r.Get("/queue", h.handleQueue)
	r.Get("/stats", h.handleStats)
	r.Get("/log.adi", h.requireAdmin(h.handleExportADIF))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Status(r.Context())
	if err != nil {
		h.logger.Error("status snapshot failed", "error", err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, report)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("queue snapshot failed", "error", err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"entries": entries,
		"length":  len(entries),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{"hub": h.hub.Stats()}
	if h.receiver != nil {
		stats["bridge"] = h.receiver.Stats()
	}
	writeJSON(w, stats)
}

func (h *Handler) handleExportADIF(w http.ResponseWriter, r *http.Request) {
	if !h.service.LogbookEnabled() {
		http.Error(w, "logbook disabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="pileup-log.adi"`)
	if err := h.service.ExportADIF(w); err != nil {
		h.logger.Error("adif export failed", "error", err.Error())
	}
}

// requireAdmin gates a route behind HTTP basic auth checked against the same
// operator credentials the WebSocket auth frame uses.
func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !h.creds.Match(user, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="pileup-bridge"`)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

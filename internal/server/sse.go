package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jawaracloud/pileup-bridge/internal/hub"
)

// HandleSSE streams broadcast events as server-sent events. Each connection
// is a hub subscriber like any WebSocket client, minus the request channel.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	conn := hub.NewChannelConn(hub.TransportSSE, h.hub.SendBuffer())
	if err := h.hub.Register(conn); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer h.hub.Unregister(conn)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: connected\ndata: {\"conn_id\":%q}\n\n", conn.ID())
	flusher.Flush()

	keepalive := time.NewTicker(h.hub.Keepalive())
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case msg := <-conn.Outbox():
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := w.Write(hub.FormatSSE("keepalive", []byte("{}"))); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jawaracloud/pileup-bridge/internal/hub"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Dashboards are served from arbitrary origins (file://, LAN hosts).
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket upgrades the connection and runs it until either side
// closes. A hub at capacity answers with close code 1013 (try again later).
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	conn := hub.NewChannelConn(hub.TransportWebSocket, h.hub.SendBuffer())
	if err := h.hub.Register(conn); err != nil {
		h.logger.Warn("websocket rejected", "error", err.Error())
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		ws.Close()
		return
	}

	go h.writePump(ws, conn)
	h.readPump(r.Context(), ws, conn)
}

// readPump feeds inbound frames to the dispatcher. It owns the read side and
// the connection's registry entry.
func (h *Handler) readPump(ctx context.Context, ws *websocket.Conn, conn *hub.ChannelConn) {
	defer func() {
		h.hub.Unregister(conn)
		ws.Close()
	}()

	pongWait := 2 * h.hub.Keepalive()
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read ended", "conn", conn.ID(), "error", err.Error())
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))
		h.dispatch.HandleMessage(ctx, conn, data)
	}
}

// writePump drains the connection outbox onto the wire and keeps the
// connection alive with protocol pings while idle.
func (h *Handler) writePump(ws *websocket.Conn, conn *hub.ChannelConn) {
	ticker := time.NewTicker(h.hub.Keepalive())
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg := <-conn.Outbox():
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-conn.Done():
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Package hub decouples event producers (store mutations, UDP-sourced QSO
// records) from subscribers (WebSocket and SSE connections). Delivery is
// best effort: no history, no retries, a dead subscriber is pruned on the
// next publish.
package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/jawaracloud/pileup-bridge/internal/metrics"
	"github.com/jawaracloud/pileup-bridge/pkg/models"
)

var (
	// ErrServerFull rejects connections past the configured maximum.
	ErrServerFull     = errors.New("server overloaded")
	ErrConnClosed     = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Relay receives every published envelope for republication outside the
// process. Implementations must not block the broadcast path.
type Relay interface {
	Relay(eventType string, envelope []byte)
}

// Config holds the fan-out limits.
type Config struct {
	MaxClients int
	Keepalive  time.Duration
	SendBuffer int
}

// Hub is the connection registry plus broadcaster. All structural changes
// to the connection set happen under one mutex; the set is snapshotted and
// the mutex released before any per-connection send.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]Conn

	relay Relay

	published atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
}

// Stats is a point-in-time broadcast snapshot.
type Stats struct {
	Connections   int   `json:"connections"`
	Authenticated int   `json:"authenticated"`
	Published     int64 `json:"events_published"`
	Delivered     int64 `json:"events_delivered"`
	SendFailures  int64 `json:"send_failures"`
}

func New(cfg Config, logger *slog.Logger) *Hub {
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = 30 * time.Second
	}
	return &Hub{
		cfg:    cfg,
		logger: logger,
		conns:  make(map[string]Conn),
	}
}

// Keepalive is the per-connection idle window after which the transport
// sends an application-level ping.
func (h *Hub) Keepalive() time.Duration { return h.cfg.Keepalive }

// SendBuffer sizes each connection's outbound channel.
func (h *Hub) SendBuffer() int { return h.cfg.SendBuffer }

// SetRelay attaches an external republisher. Call before traffic starts.
func (h *Hub) SetRelay(r Relay) { h.relay = r }

// Register adds a connection. Registering the same connection twice is a
// no-op. Returns ErrServerFull past the configured capacity.
func (h *Hub) Register(conn Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[conn.ID()]; ok {
		return nil
	}
	if h.cfg.MaxClients > 0 && len(h.conns) >= h.cfg.MaxClients {
		return ErrServerFull
	}
	h.conns[conn.ID()] = conn
	metrics.ActiveConnections.WithLabelValues(conn.Transport().String()).Inc()
	h.logger.Debug("subscriber registered", "conn", conn.ID(), "transport", conn.Transport().String())
	return nil
}

// Unregister removes and closes a connection. Removing a non-member is a
// no-op.
func (h *Hub) Unregister(conn Conn) {
	h.mu.Lock()
	_, ok := h.conns[conn.ID()]
	if ok {
		delete(h.conns, conn.ID())
	}
	h.mu.Unlock()

	if ok {
		metrics.ActiveConnections.WithLabelValues(conn.Transport().String()).Dec()
		conn.Close()
		h.logger.Debug("subscriber removed", "conn", conn.ID())
	}
}

// Counts returns the total and authenticated connection counts.
func (h *Hub) Counts() (total, authenticated int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.conns {
		total++
		if c.Authenticated() {
			authenticated++
		}
	}
	return total, authenticated
}

// Publish broadcasts an event to every registered connection.
func (h *Hub) Publish(eventType string, data interface{}) {
	h.publish(eventType, data, false)
}

// PublishAdmin broadcasts an event to authenticated connections only.
func (h *Hub) PublishAdmin(eventType string, data interface{}) {
	h.publish(eventType, data, true)
}

func (h *Hub) publish(eventType string, data interface{}, adminOnly bool) {
	env := models.Event{
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("event payload not serializable", "event_type", eventType, "error", err)
		return
	}
	frameJSON, err := json.Marshal(models.EventFrame{Type: models.FrameEvent, Event: env})
	if err != nil {
		h.logger.Error("event frame not serializable", "event_type", eventType, "error", err)
		return
	}
	sseMsg := FormatSSE(eventType, envJSON)

	h.mu.RLock()
	targets := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		if adminOnly && !c.Authenticated() {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	h.published.Inc()
	metrics.EventsPublished.WithLabelValues(eventType).Inc()

	var pruned []Conn
	for _, c := range targets {
		msg := frameJSON
		if c.Transport() == TransportSSE {
			msg = sseMsg
		}
		if err := c.Send(msg); err != nil {
			h.failed.Inc()
			metrics.SendFailures.Inc()
			pruned = append(pruned, c)
			h.logger.Warn("dropping subscriber after failed send",
				"conn", c.ID(), "event_type", eventType, "error", err)
			continue
		}
		h.delivered.Inc()
		metrics.EventsDelivered.Inc()
	}

	for _, c := range pruned {
		h.Unregister(c)
	}

	if h.relay != nil {
		h.relay.Relay(eventType, envJSON)
	}
}

// CloseAll closes every live connection concurrently and waits for all of
// them before returning.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]Conn)
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c Conn) {
			defer wg.Done()
			metrics.ActiveConnections.WithLabelValues(c.Transport().String()).Dec()
			c.Close()
		}(c)
	}
	wg.Wait()
	h.logger.Info("all subscribers closed", "count", len(conns))
}

// Stats reports the current registry and delivery counters.
func (h *Hub) Stats() Stats {
	total, auth := h.Counts()
	return Stats{
		Connections:   total,
		Authenticated: auth,
		Published:     h.published.Load(),
		Delivered:     h.delivered.Load(),
		SendFailures:  h.failed.Load(),
	}
}

// FormatSSE renders one server-sent event record.
func FormatSSE(eventType string, data []byte) []byte {
	return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", eventType, data)
}

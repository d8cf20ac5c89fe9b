// Package dispatch routes inbound WebSocket frames: ping straight to pong,
// auth to the credential check, requests to registered operation handlers.
// Handler failures become frames on the same connection; only a transport
// failure tears a connection down.
package dispatch

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jawaracloud/pileup-bridge/internal/hub"
	"github.com/jawaracloud/pileup-bridge/internal/metrics"
	"github.com/jawaracloud/pileup-bridge/pkg/models"
)

// AdminPrefix gates operations behind authentication.
const AdminPrefix = "admin."

// Handler implements one operation. The returned value becomes the data
// field of the response frame.
type Handler func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error)

// Credentials is the single shared admin credential pair. An empty pair
// disables admin authentication entirely.
type Credentials struct {
	Username string
	Password string
}

// Match compares both parts in constant time. Inputs are hashed first so
// length differences do not leak.
func (c Credentials) Match(username, password string) bool {
	if c.Username == "" || c.Password == "" {
		return false
	}
	userOK := constantTimeEqual(username, c.Username)
	passOK := constantTimeEqual(password, c.Password)
	return userOK && passOK
}

func constantTimeEqual(a, b string) bool {
	ah := sha256.Sum256([]byte(a))
	bh := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ah[:], bh[:]) == 1
}

// Dispatcher owns the operation table and the per-connection auth state
// machine: Connected(unauthenticated) -> Authenticated(admin), one way,
// for the life of the socket.
type Dispatcher struct {
	logger *slog.Logger
	hub    *hub.Hub
	creds  Credentials
	ops    map[string]Handler
}

func New(h *hub.Hub, creds Credentials, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger,
		hub:    h,
		creds:  creds,
		ops:    make(map[string]Handler),
	}
}

// Register adds an operation handler. Registration happens during wiring,
// before any connection exists; later registrations replace earlier ones.
func (d *Dispatcher) Register(operation string, h Handler) {
	d.ops[operation] = h
}

// HandleMessage processes one inbound frame and writes any reply to conn.
// Protocol and handler problems never propagate as errors; they become
// frames. A reply that cannot be sent prunes the connection.
func (d *Dispatcher) HandleMessage(ctx context.Context, conn hub.Conn, raw []byte) {
	var frame models.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		d.reply(conn, models.ErrorFrame{Type: models.FrameError, Message: "malformed JSON frame"})
		return
	}

	kind := frame.Type
	switch kind {
	case models.FramePing, models.FrameAuth, models.FrameRequest:
	default:
		kind = "unknown"
	}
	metrics.FramesHandled.WithLabelValues(kind).Inc()

	switch frame.Type {
	case models.FramePing:
		d.pong(conn, frame.ID)
	case models.FrameAuth:
		d.auth(conn, frame)
	case models.FrameRequest:
		d.request(ctx, conn, frame)
	default:
		d.reply(conn, models.ErrorFrame{Type: models.FrameError, ID: frame.ID, Message: "unknown message type: " + frame.Type})
	}
}

// Pong builds the ping reply payload, also reused by the system.ping
// operation.
func (d *Dispatcher) Pong() models.PongData {
	total, auth := d.hub.Counts()
	return models.PongData{
		Timestamp:     time.Now().UTC(),
		Connections:   total,
		Authenticated: auth,
	}
}

func (d *Dispatcher) pong(conn hub.Conn, id string) {
	d.reply(conn, models.PongFrame{Type: models.FramePong, ID: id, Data: d.Pong()})
}

func (d *Dispatcher) auth(conn hub.Conn, frame models.InboundFrame) {
	var creds models.AuthData
	if err := json.Unmarshal(frame.Data, &creds); err != nil {
		d.reply(conn, models.ResponseFrame{Type: models.FrameResponse, ID: frame.ID, Success: false, Error: "malformed auth payload"})
		return
	}

	if !d.creds.Match(creds.Username, creds.Password) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		d.logger.Warn("authentication failed", "conn", conn.ID())
		d.reply(conn, models.ResponseFrame{Type: models.FrameResponse, ID: frame.ID, Success: false, Error: "invalid credentials"})
		return
	}

	conn.SetRole(hub.RoleAdmin)
	metrics.AuthAttempts.WithLabelValues("success").Inc()
	d.logger.Info("connection authenticated", "conn", conn.ID())
	d.reply(conn, models.ResponseFrame{Type: models.FrameResponse, ID: frame.ID, Success: true, Data: map[string]string{"role": "admin"}})
}

func (d *Dispatcher) request(ctx context.Context, conn hub.Conn, frame models.InboundFrame) {
	handler, ok := d.ops[frame.Operation]
	if !ok {
		d.reply(conn, models.ErrorFrame{Type: models.FrameError, ID: frame.ID, Message: "unknown operation: " + frame.Operation})
		return
	}
	if strings.HasPrefix(frame.Operation, AdminPrefix) && !conn.Authenticated() {
		d.reply(conn, models.ResponseFrame{Type: models.FrameResponse, ID: frame.ID, Success: false, Error: "authentication required"})
		return
	}

	result, err := d.invoke(ctx, handler, conn, frame.Data)
	if err != nil {
		d.logger.Debug("operation failed", "operation", frame.Operation, "conn", conn.ID(), "error", err)
		d.reply(conn, models.ResponseFrame{Type: models.FrameResponse, ID: frame.ID, Success: false, Error: err.Error()})
		return
	}
	d.reply(conn, models.ResponseFrame{Type: models.FrameResponse, ID: frame.ID, Success: true, Data: result})
}

// invoke shields the dispatch loop from handler panics.
func (d *Dispatcher) invoke(ctx context.Context, handler Handler, conn hub.Conn, data json.RawMessage) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("operation handler panic", "conn", conn.ID(), "panic", r)
			err = fmt.Errorf("internal error")
		}
	}()
	return handler(ctx, conn, data)
}

func (d *Dispatcher) reply(conn hub.Conn, frame interface{}) {
	msg, err := json.Marshal(frame)
	if err != nil {
		d.logger.Error("reply not serializable", "error", err)
		return
	}
	if err := conn.Send(msg); err != nil {
		d.hub.Unregister(conn)
	}
}

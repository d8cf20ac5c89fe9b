package models

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// QSO record sources.
const (
	SourceADIF      = "adif"
	SourcePlainText = "plain_text"
	SourceDirect    = "direct"
	SourceQueue     = "queue"
)

// Broadcast event types.
const (
	EventQueueUpdate         = "queue_update"
	EventCurrentQSO          = "current_qso"
	EventSystemStatus        = "system_status"
	EventFrequencyUpdate     = "frequency_update"
	EventSplitUpdate         = "split_update"
	EventWorkedCallersUpdate = "worked_callers_update"
)

// WebSocket frame kinds.
const (
	FrameRequest  = "request"
	FrameAuth     = "auth"
	FramePing     = "ping"
	FrameResponse = "response"
	FramePong     = "pong"
	FrameEvent    = "event"
	FrameError    = "error"
)

// QSORecord is one normalized contact, produced by the packet parser or by
// admin action. Immutable once produced; a new record replaces the old one.
type QSORecord struct {
	Callsign     string    `json:"callsign"`
	Timestamp    time.Time `json:"timestamp"`
	FrequencyMHz *float64  `json:"frequency_mhz,omitempty"`
	Mode         string    `json:"mode,omitempty"`
	Source       string    `json:"source"`
}

// QueueEntry is one waiting caller. Position is 1-based and recomputed from
// arrival order on every read; it is never stored.
type QueueEntry struct {
	Callsign  string    `json:"callsign"`
	Timestamp time.Time `json:"timestamp"`
	Position  int       `json:"position"`
}

// WorkedCaller is one entry in the recent worked-station history.
type WorkedCaller struct {
	Callsign     string    `json:"callsign"`
	Timestamp    time.Time `json:"timestamp"`
	Mode         string    `json:"mode,omitempty"`
	FrequencyMHz *float64  `json:"frequency_mhz,omitempty"`
}

// SystemStatus reports whether the queue accepts registrations.
type SystemStatus struct {
	Active  bool   `json:"active"`
	Message string `json:"message,omitempty"`
}

// SplitState describes split operation: the RX offset from the TX frequency.
type SplitState struct {
	Enabled   bool    `json:"enabled"`
	OffsetKHz float64 `json:"offset_khz"`
}

// QueueClaims are the JWT claims inside a queue token.
type QueueClaims struct {
	Callsign string `json:"callsign"`
	IssuedAt int64  `json:"issued_at"`
	jwt.RegisteredClaims
}

// QueueStatus is the self-service position report for a token holder.
type QueueStatus struct {
	InQueue     bool  `json:"in_queue"`
	Position    int   `json:"position"`
	QueueLength int64 `json:"queue_length"`
}

// InboundFrame is any client-to-server WebSocket frame, discriminated by Type.
type InboundFrame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Operation string          `json:"operation,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// AuthData is the payload of an auth frame.
type AuthData struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ResponseFrame answers a request frame, correlated by ID.
type ResponseFrame struct {
	Type    string      `json:"type"`
	ID      string      `json:"id,omitempty"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// PongFrame answers a ping frame.
type PongFrame struct {
	Type string   `json:"type"`
	ID   string   `json:"id,omitempty"`
	Data PongData `json:"data"`
}

// PongData carries the server clock and connection counts.
type PongData struct {
	Timestamp     time.Time `json:"timestamp"`
	Connections   int       `json:"connections"`
	Authenticated int       `json:"authenticated"`
}

// ErrorFrame reports a protocol-level problem on one connection.
type ErrorFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// Event is the broadcast envelope. Constructed fresh per publish, never
// persisted.
type Event struct {
	EventType string      `json:"event_type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventFrame is an unsolicited broadcast pushed to WebSocket subscribers.
type EventFrame struct {
	Type string `json:"type"`
	Event
}

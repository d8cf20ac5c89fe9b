package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jawaracloud/pileup-bridge/internal/hub"
	"github.com/jawaracloud/pileup-bridge/pkg/models"
)

type fakeConn struct {
	id      string
	created time.Time

	mu     sync.Mutex
	role   hub.Role
	closed bool
	msgs   [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: uuid.New().String(), created: time.Now()}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Role() hub.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *fakeConn) SetRole(r hub.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = r
}

func (c *fakeConn) Authenticated() bool      { return c.Role() == hub.RoleAdmin }
func (c *fakeConn) CreatedAt() time.Time     { return c.created }
func (c *fakeConn) Transport() hub.Transport { return hub.TransportWebSocket }

func (c *fakeConn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// lastFrame decodes the most recent reply into dst.
func (c *fakeConn) lastFrame(t *testing.T, dst interface{}) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) == 0 {
		t.Fatal("no reply written to connection")
	}
	if err := json.Unmarshal(c.msgs[len(c.msgs)-1], dst); err != nil {
		t.Fatalf("reply decode: %v", err)
	}
}

func testDispatcher(t *testing.T) (*Dispatcher, *hub.Hub) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := hub.New(hub.Config{MaxClients: 10}, logger)
	d := New(h, Credentials{Username: "admin", Password: "tnx73"}, logger)
	return d, h
}

func authenticate(t *testing.T, d *Dispatcher, conn hub.Conn) {
	t.Helper()
	d.HandleMessage(context.Background(), conn,
		[]byte(`{"type":"auth","id":"a1","data":{"username":"admin","password":"tnx73"}}`))
	if !conn.Authenticated() {
		t.Fatal("connection not authenticated after valid auth frame")
	}
}

func TestAdminOperationRequiresAuth(t *testing.T) {
	d, h := testDispatcher(t)

	var calls int
	d.Register("admin.next_qso", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		calls++
		return nil, nil
	})

	conn := newFakeConn()
	h.Register(conn)

	d.HandleMessage(context.Background(), conn, []byte(`{"type":"request","id":"r1","operation":"admin.next_qso"}`))

	var resp models.ResponseFrame
	conn.lastFrame(t, &resp)
	if resp.Type != models.FrameResponse || resp.ID != "r1" {
		t.Fatalf("frame = %s/%s, want response/r1", resp.Type, resp.ID)
	}
	if resp.Success {
		t.Fatal("admin operation succeeded without auth")
	}
	if resp.Error != "authentication required" {
		t.Errorf("error = %q, want authentication required", resp.Error)
	}
	if calls != 0 {
		t.Errorf("handler invoked %d times before auth, want 0", calls)
	}
}

func TestAuthFlow(t *testing.T) {
	d, h := testDispatcher(t)

	var calls int
	d.Register("admin.next_qso", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		calls++
		return map[string]string{"callsign": "W1ABC"}, nil
	})

	conn := newFakeConn()
	other := newFakeConn()
	h.Register(conn)
	h.Register(other)

	// Wrong password leaves the connection public.
	d.HandleMessage(context.Background(), conn,
		[]byte(`{"type":"auth","id":"a0","data":{"username":"admin","password":"wrong"}}`))
	var resp models.ResponseFrame
	conn.lastFrame(t, &resp)
	if resp.Success || conn.Authenticated() {
		t.Fatal("invalid credentials were accepted")
	}

	authenticate(t, d, conn)

	req := []byte(`{"type":"request","id":"r1","operation":"admin.next_qso"}`)
	d.HandleMessage(context.Background(), conn, req)
	d.HandleMessage(context.Background(), conn, req)

	conn.lastFrame(t, &resp)
	if !resp.Success {
		t.Fatalf("admin operation failed after auth: %s", resp.Error)
	}
	if calls != 2 {
		t.Errorf("handler calls = %d, want 2", calls)
	}

	// Authentication is per connection.
	if other.Authenticated() {
		t.Error("unrelated connection became authenticated")
	}
	d.HandleMessage(context.Background(), other, req)
	other.lastFrame(t, &resp)
	if resp.Success {
		t.Error("unauthenticated connection ran an admin operation")
	}
}

func TestPingShortCircuitsOperationTable(t *testing.T) {
	d, h := testDispatcher(t)

	conn := newFakeConn()
	h.Register(conn)

	// No operations registered at all: ping must still answer.
	d.HandleMessage(context.Background(), conn, []byte(`{"type":"ping","id":"p1"}`))

	var pong models.PongFrame
	conn.lastFrame(t, &pong)
	if pong.Type != models.FramePong || pong.ID != "p1" {
		t.Fatalf("frame = %s/%s, want pong/p1", pong.Type, pong.ID)
	}
	if pong.Data.Timestamp.IsZero() {
		t.Error("pong timestamp not set")
	}
	if pong.Data.Connections != 1 || pong.Data.Authenticated != 0 {
		t.Errorf("counts = %d/%d, want 1/0", pong.Data.Connections, pong.Data.Authenticated)
	}
}

func TestUnknownOperation(t *testing.T) {
	d, h := testDispatcher(t)
	conn := newFakeConn()
	h.Register(conn)

	d.HandleMessage(context.Background(), conn, []byte(`{"type":"request","id":"r1","operation":"queue.bogus"}`))

	var errFrame models.ErrorFrame
	conn.lastFrame(t, &errFrame)
	if errFrame.Type != models.FrameError || errFrame.ID != "r1" {
		t.Fatalf("frame = %s/%s, want error/r1", errFrame.Type, errFrame.ID)
	}
	if errFrame.Message == "" {
		t.Error("error frame has no message")
	}
	if conn.isClosed() {
		t.Error("connection closed on protocol error")
	}
}

func TestMalformedFrames(t *testing.T) {
	d, h := testDispatcher(t)

	tests := []struct {
		name string
		raw  string
	}{
		{"broken json", `{"type":"request",`},
		{"unknown kind", `{"type":"subscribe","id":"s1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn()
			h.Register(conn)

			d.HandleMessage(context.Background(), conn, []byte(tt.raw))

			var errFrame models.ErrorFrame
			conn.lastFrame(t, &errFrame)
			if errFrame.Type != models.FrameError {
				t.Fatalf("frame type = %s, want error", errFrame.Type)
			}
			if conn.isClosed() {
				t.Error("connection closed on protocol error")
			}
		})
	}
}

func TestHandlerErrorBecomesResponse(t *testing.T) {
	d, h := testDispatcher(t)

	d.Register("queue.register", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		return nil, errors.New("callsign already in queue")
	})

	conn := newFakeConn()
	h.Register(conn)

	d.HandleMessage(context.Background(), conn, []byte(`{"type":"request","id":"r9","operation":"queue.register","data":{"callsign":"W1ABC"}}`))

	var resp models.ResponseFrame
	conn.lastFrame(t, &resp)
	if resp.Success {
		t.Fatal("failing handler reported success")
	}
	if resp.Error != "callsign already in queue" {
		t.Errorf("error = %q, want domain message", resp.Error)
	}
	if conn.isClosed() {
		t.Error("connection torn down by handler error")
	}

	if total, _ := h.Counts(); total != 1 {
		t.Errorf("registry size = %d, want 1", total)
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	d, h := testDispatcher(t)

	d.Register("public.get_status", func(ctx context.Context, conn hub.Conn, data json.RawMessage) (interface{}, error) {
		panic("boom")
	})

	conn := newFakeConn()
	h.Register(conn)

	d.HandleMessage(context.Background(), conn, []byte(`{"type":"request","id":"r1","operation":"public.get_status"}`))

	var resp models.ResponseFrame
	conn.lastFrame(t, &resp)
	if resp.Success || resp.Error != "internal error" {
		t.Fatalf("panic reply = %+v, want internal error response", resp)
	}
	if conn.isClosed() {
		t.Error("connection torn down by handler panic")
	}
}

func TestCredentialsMatch(t *testing.T) {
	tests := []struct {
		name     string
		creds    Credentials
		username string
		password string
		want     bool
	}{
		{"valid pair", Credentials{"admin", "tnx73"}, "admin", "tnx73", true},
		{"wrong password", Credentials{"admin", "tnx73"}, "admin", "cq", false},
		{"wrong username", Credentials{"admin", "tnx73"}, "op", "tnx73", false},
		{"disabled when unconfigured", Credentials{}, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.creds.Match(tt.username, tt.password); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/jawaracloud/pileup-bridge/internal/dispatch"
	"github.com/jawaracloud/pileup-bridge/internal/hub"
	"github.com/jawaracloud/pileup-bridge/internal/logbook"
	"github.com/jawaracloud/pileup-bridge/internal/queue"
	"github.com/jawaracloud/pileup-bridge/internal/storage"
	"github.com/jawaracloud/pileup-bridge/pkg/models"
)

func testServer(t *testing.T, withLogbook bool) (*httptest.Server, *queue.Service, *logbook.Logbook) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemory(10, 10)
	h := hub.New(hub.Config{MaxClients: 10, SendBuffer: 16}, logger)

	var book *logbook.Logbook
	if withLogbook {
		var err error
		book, err = logbook.Open(filepath.Join(t.TempDir(), "log.db"))
		if err != nil {
			t.Fatalf("open logbook: %v", err)
		}
		t.Cleanup(func() { book.Close() })
	}

	svc := queue.New(store, h, book, queue.Config{TokenSecret: "test-secret", TokenTTL: time.Hour}, logger)
	creds := dispatch.Credentials{Username: "admin", Password: "tnx73"}
	d := dispatch.New(h, creds, logger)
	svc.MountOperations(d)

	handler := NewHandler(svc, d, h, nil, creds, logger)

	r := chi.NewRouter()
	r.Get("/ws", handler.HandleWebSocket)
	r.Route("/api/v1", func(r chi.Router) {
		handler.RegisterRoutes(r)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc, book
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("websocket read: %v", err)
	}
	var frame map[string]interface{}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("frame decode: %v (%s)", err, data)
	}
	return frame
}

// readSSEEvent returns the next event/data record on the stream.
func readSSEEvent(t *testing.T, reader *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("sse read: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event != "":
			return event, data
		}
	}
}

func TestWebSocketPingPong(t *testing.T) {
	srv, _, _ := testServer(t, false)
	conn := dialWS(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","id":"p1"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	frame := readFrame(t, conn)
	if frame["type"] != models.FramePong || frame["id"] != "p1" {
		t.Fatalf("frame = %v, want pong p1", frame)
	}
}

func TestWebSocketRegisterFlow(t *testing.T) {
	srv, _, _ := testServer(t, false)
	conn := dialWS(t, srv)

	req := `{"type":"request","id":"r1","operation":"queue.register","data":{"callsign":"W1ABC"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The register broadcast and the response share the outbox; order is not
	// part of the contract.
	var response map[string]interface{}
	sawQueueUpdate := false
	for response == nil || !sawQueueUpdate {
		frame := readFrame(t, conn)
		switch frame["type"] {
		case models.FrameResponse:
			response = frame
		case models.FrameEvent:
			if frame["event_type"] == models.EventQueueUpdate {
				sawQueueUpdate = true
			}
		}
	}

	if response["success"] != true {
		t.Fatalf("register response = %v", response)
	}
	data, ok := response["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("register data = %v, want entry plus token", response["data"])
	}
	if token, _ := data["token"].(string); token == "" {
		t.Fatalf("register data = %v, missing token", data)
	}
}

func TestWebSocketAdminFlow(t *testing.T) {
	srv, _, _ := testServer(t, false)
	conn := dialWS(t, srv)

	auth := `{"type":"auth","id":"a1","data":{"username":"admin","password":"tnx73"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(auth)); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame := readFrame(t, conn)
	if frame["type"] != models.FrameResponse || frame["success"] != true {
		t.Fatalf("auth response = %v", frame)
	}

	req := `{"type":"request","id":"r1","operation":"admin.get_queue"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}
	frame = readFrame(t, conn)
	if frame["success"] != true {
		t.Fatalf("admin.get_queue response = %v", frame)
	}
}

func TestSSEStream(t *testing.T) {
	srv, svc, _ := testServer(t, false)

	resp, err := http.Get(srv.URL + "/api/v1/events")
	if err != nil {
		t.Fatalf("sse get: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)

	event, _ := readSSEEvent(t, reader)
	if event != "connected" {
		t.Fatalf("first event = %q, want connected", event)
	}

	if err := svc.SetFrequency(context.Background(), 14.074); err != nil {
		t.Fatalf("SetFrequency: %v", err)
	}

	event, data := readSSEEvent(t, reader)
	if event != models.EventFrequencyUpdate {
		t.Fatalf("event = %q, want frequency_update", event)
	}
	var env models.Event
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		t.Fatalf("envelope decode: %v (%s)", err, data)
	}
	if env.EventType != models.EventFrequencyUpdate {
		t.Errorf("envelope event_type = %q", env.EventType)
	}
}

func TestSSEKeepaliveEvent(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemory(10, 10)
	h := hub.New(hub.Config{MaxClients: 10, SendBuffer: 16, Keepalive: 40 * time.Millisecond}, logger)
	svc := queue.New(store, h, nil, queue.Config{TokenSecret: "test-secret", TokenTTL: time.Hour}, logger)
	creds := dispatch.Credentials{Username: "admin", Password: "tnx73"}
	d := dispatch.New(h, creds, logger)
	svc.MountOperations(d)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		NewHandler(svc, d, h, nil, creds, logger).RegisterRoutes(r)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	// The client timeout bounds the read if the stream stays silent.
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(srv.URL + "/api/v1/events")
	if err != nil {
		t.Fatalf("sse get: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)

	event, _ := readSSEEvent(t, reader)
	if event != "connected" {
		t.Fatalf("first event = %q, want connected", event)
	}

	// Nothing is broadcast here; only the idle timer can produce a record.
	event, data := readSSEEvent(t, reader)
	if event != "keepalive" {
		t.Fatalf("idle event = %q, want keepalive", event)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		t.Fatalf("keepalive data = %q, want JSON: %v", data, err)
	}
}

func TestStatusQueueAndStats(t *testing.T) {
	srv, svc, _ := testServer(t, false)

	if _, _, err := svc.Register(context.Background(), "W1ABC"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("status get: %v", err)
	}
	defer resp.Body.Close()
	var status struct {
		Status      models.SystemStatus `json:"status"`
		QueueLength int                 `json:"queue_length"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("status decode: %v", err)
	}
	if !status.Status.Active || status.QueueLength != 1 {
		t.Errorf("status = %+v", status)
	}

	resp, err = http.Get(srv.URL + "/api/v1/queue")
	if err != nil {
		t.Fatalf("queue get: %v", err)
	}
	defer resp.Body.Close()
	var q struct {
		Entries []models.QueueEntry `json:"entries"`
		Length  int                 `json:"length"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		t.Fatalf("queue decode: %v", err)
	}
	if q.Length != 1 || len(q.Entries) != 1 || q.Entries[0].Callsign != "W1ABC" {
		t.Errorf("queue = %+v", q)
	}

	resp, err = http.Get(srv.URL + "/api/v1/stats")
	if err != nil {
		t.Fatalf("stats get: %v", err)
	}
	defer resp.Body.Close()
	var stats map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("stats decode: %v", err)
	}
	if _, ok := stats["hub"]; !ok {
		t.Errorf("stats = %v, missing hub section", stats)
	}
}

func TestLogExportRequiresAuth(t *testing.T) {
	srv, _, book := testServer(t, true)

	if err := book.Append(models.QSORecord{
		Callsign:  "W1ABC",
		Timestamp: time.Now().UTC(),
		Mode:      "SSB",
		Source:    models.SourceADIF,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/log.adi")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/log.adi", nil)
	req.SetBasicAuth("admin", "tnx73")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authed get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authed status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "<adif_ver") || !strings.Contains(string(body), "W1ABC") {
		t.Errorf("export body = %q", body)
	}
}

package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// startTestServer runs a feed server on an ephemeral port.
func startTestServer(t *testing.T) *Server {
	t.Helper()

	s := NewServer(0, log.New(io.Discard, "", 0))
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s
}

// TestServer_Health tests the monitoring endpoint.
func TestServer_Health(t *testing.T) {
	s := startTestServer(t)

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.Clients != 0 {
		t.Errorf("clients = %d, want 0", body.Clients)
	}
}

// TestServer_Feed tests that a connected client receives published events.
func TestServer_Feed(t *testing.T) {
	s := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Wait for the server to register the client before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.PublishPass(PassComplete{Synced: 3, Failed: 1, Pending: 2})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("failed to read event: %v", err)
	}

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("failed to parse event: %v", err)
	}
	if event.Type != EventPassComplete {
		t.Errorf("event type = %q, want %q", event.Type, EventPassComplete)
	}

	var pass PassComplete
	if err := json.Unmarshal(event.Data, &pass); err != nil {
		t.Fatalf("failed to parse pass payload: %v", err)
	}
	if pass.Synced != 3 || pass.Failed != 1 || pass.Pending != 2 {
		t.Errorf("pass payload = %+v, want synced=3 failed=1 pending=2", pass)
	}
}

// TestServer_PublishWithoutClients tests that publishing to an empty room
// doesn't block or panic.
func TestServer_PublishWithoutClients(t *testing.T) {
	s := startTestServer(t)

	for i := 0; i < 10; i++ {
		s.PublishTaskUpdate(TaskUpdate{TaskID: "t1", Action: "created"})
	}
}

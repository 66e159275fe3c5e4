package hub

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestBroadcastReachesAllClients(t *testing.T) {
	h := New(nil, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	c1 := dial(t, srv.URL)
	c2 := dial(t, srv.URL)

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.ClientCount(); got != 2 {
		t.Fatalf("ClientCount() = %d, want 2", got)
	}

	h.Broadcast(Event{Type: "recording.status", Payload: map[string]string{"state": "recording"}})

	for i, conn := range []*websocket.Conn{c1, c2} {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		var ev Event
		err := wsjson.Read(ctx, conn, &ev)
		cancel()
		if err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}
		if ev.Type != "recording.status" {
			t.Errorf("client %d event type = %q, want recording.status", i, ev.Type)
		}
	}
}

func TestCommandDispatchAndReply(t *testing.T) {
	handled := make(chan Command, 1)
	h := New(func(_ context.Context, cmd Command, reply func(Event)) {
		handled <- cmd
		reply(Event{Type: "ack", Payload: cmd.Type})
	}, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	payload, _ := json.Marshal(map[string]string{"id": "rec-1"})
	if err := wsjson.Write(ctx, conn, Command{Type: "history.delete", Payload: payload}); err != nil {
		t.Fatalf("write command: %v", err)
	}

	select {
	case cmd := <-handled:
		if cmd.Type != "history.delete" {
			t.Errorf("command type = %q, want history.delete", cmd.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command never reached handler")
	}

	var ev Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if ev.Type != "ack" {
		t.Errorf("reply type = %q, want ack", ev.Type)
	}
}

func TestBroadcastToJustDroppedClient(t *testing.T) {
	h := New(nil, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	dial(t, srv.URL)

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.mu.Lock()
	var c *client
	for cl := range h.clients {
		c = cl
	}
	h.mu.Unlock()
	if c == nil {
		t.Fatal("no client registered")
	}

	// A disconnect can land between Broadcast's snapshot of the client
	// set and the delivery to each client. Deliveries after the drop must
	// be discarded, not panic the daemon.
	h.drop(c, websocket.StatusNormalClosure, "")
	h.send(c, Event{Type: "session.status"})
	h.Broadcast(Event{Type: "session.status"})

	if got := h.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	h := New(nil, nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv.URL)

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var ev Event
	if err := wsjson.Read(ctx, conn, &ev); err == nil {
		t.Error("read after Close succeeded, want connection closed")
	}
	if got := h.ClientCount(); got != 0 {
		t.Errorf("ClientCount() after Close = %d, want 0", got)
	}
}

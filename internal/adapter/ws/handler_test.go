package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/hookrelay/internal/domain/hookevent"
)

func batch(ids ...string) []hookevent.Event {
	out := make([]hookevent.Event, len(ids))
	for i, id := range ids {
		out[i] = hookevent.Event{ID: id, Kind: hookevent.KindNotification, SessionID: "s1",
			Payload: &hookevent.NotificationPayload{Message: id}}
	}
	return out
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func readMessage(t *testing.T, c *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func waitConnections(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ConnectionCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, got %d", n, h.ConnectionCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(10, nil)
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections, got %d", hub.ConnectionCount())
	}
	if hub.Name() != "observers" {
		t.Fatalf("unexpected name %q", hub.Name())
	}
}

func TestSendNoConnectionsRecordsReplay(t *testing.T) {
	hub := NewHub(3, nil)

	if err := hub.Send(context.Background(), batch("e1", "e2")); err != nil {
		t.Fatal(err)
	}
	if err := hub.Send(context.Background(), batch("e3", "e4")); err != nil {
		t.Fatal(err)
	}

	replay := hub.Replay()
	if len(replay) != 3 || replay[0].ID != "e2" || replay[2].ID != "e4" {
		t.Fatalf("expected last 3 events, got %v", replay)
	}
}

func TestReplayDisabled(t *testing.T) {
	hub := NewHub(0, nil)
	_ = hub.Send(context.Background(), batch("e1"))
	if len(hub.Replay()) != 0 {
		t.Fatal("replay buffer must stay empty when disabled")
	}
}

func TestObserverReceivesReplayThenLiveEvents(t *testing.T) {
	hub := NewHub(200, nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	_ = hub.Send(context.Background(), batch("e1", "e2"))

	c := dial(t, srv)
	msg := readMessage(t, c)
	if msg.Type != MessageReplay || len(msg.Events) != 2 || msg.Events[0].ID != "e1" {
		t.Fatalf("unexpected replay %+v", msg)
	}
	waitConnections(t, hub, 1)

	_ = hub.Send(context.Background(), batch("e3"))
	msg = readMessage(t, c)
	if msg.Type != MessageEvents || len(msg.Events) != 1 || msg.Events[0].ID != "e3" {
		t.Fatalf("unexpected live message %+v", msg)
	}
	if _, ok := msg.Events[0].Payload.(*hookevent.NotificationPayload); !ok {
		t.Fatalf("payload type lost: %T", msg.Events[0].Payload)
	}
}

func TestCloseDisconnectsObservers(t *testing.T) {
	hub := NewHub(10, nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	c := dial(t, srv)
	waitConnections(t, hub, 1)

	if err := hub.Close(); err != nil {
		t.Fatal(err)
	}
	if hub.ConnectionCount() != 0 {
		t.Fatalf("expected 0 connections after close, got %d", hub.ConnectionCount())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := c.Read(ctx); websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Fatalf("expected going-away close, got %v", err)
	}
}

// Package ws implements the local observer hub: websocket clients connect to
// it and receive the normalized event stream, starting with a replay of the
// most recent events.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/hookrelay/internal/domain/hookevent"
)

// Message types sent to observers.
const (
	MessageReplay = "replay"
	MessageEvents = "events"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type   string            `json:"type"`
	Events []hookevent.Event `json:"events"`
}

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub manages all active observer connections and broadcasts event batches.
// It implements transport.Sink.
type Hub struct {
	mu        sync.Mutex
	conns     map[*conn]struct{}
	replay    []hookevent.Event
	replayCap int

	writeTimeout time.Duration
	log          *slog.Logger
}

// NewHub creates a hub that replays up to replayCap recent events to every
// newly connected observer.
func NewHub(replayCap int, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		conns:        make(map[*conn]struct{}),
		replayCap:    replayCap,
		writeTimeout: time.Second,
		log:          log,
	}
}

// Name identifies the hub in pool stats.
func (h *Hub) Name() string { return "observers" }

// HandleWS upgrades the request, writes the replay buffer and registers the
// connection for subsequent broadcasts.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		h.log.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{ws: ws, cancel: cancel}

	// Holding the lock while replaying keeps live batches from overtaking
	// the replay on this connection.
	h.mu.Lock()
	if len(h.replay) > 0 {
		if err := h.write(ctx, c, Message{Type: MessageReplay, Events: h.replay}); err != nil {
			h.mu.Unlock()
			cancel()
			_ = ws.Close(websocket.StatusInternalError, "replay failed")
			h.log.Debug("websocket replay failed", "error", err)
			return
		}
	}
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.log.Info("observer connected", "remote", r.RemoteAddr)

	// Read loop (to detect disconnects and consume pings)
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			_, _, err := ws.Read(ctx)
			if err != nil {
				return
			}
		}
	}()
}

// Send records events in the replay buffer and writes them to every
// connected observer. Observers that cannot keep up are disconnected; the
// hub itself never reports a delivery failure.
func (h *Hub) Send(ctx context.Context, events []hookevent.Event) error {
	if len(events) == 0 {
		return nil
	}

	h.mu.Lock()
	h.record(events)
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	msg := Message{Type: MessageEvents, Events: events}
	for _, c := range targets {
		if err := h.write(ctx, c, msg); err != nil {
			h.log.Debug("websocket write failed", "error", err)
			h.remove(c)
		}
	}
	return nil
}

// record must be called with h.mu held.
func (h *Hub) record(events []hookevent.Event) {
	if h.replayCap <= 0 {
		return
	}
	h.replay = append(h.replay, events...)
	if over := len(h.replay) - h.replayCap; over > 0 {
		h.replay = append(h.replay[:0:0], h.replay[over:]...)
	}
}

func (h *Hub) write(ctx context.Context, c *conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal observer message: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Replay returns a copy of the replay buffer.
func (h *Hub) Replay() []hookevent.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]hookevent.Event, len(h.replay))
	copy(out, h.replay)
	return out
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every observer.
func (h *Hub) Close() error {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*conn]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.cancel()
		_ = c.ws.Close(websocket.StatusGoingAway, "relay shutting down")
	}
	return nil
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		h.log.Info("observer disconnected")
	}
}

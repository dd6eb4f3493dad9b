// Package wsclient delivers event batches to a remote observer endpoint over
// a small pool of reused websocket connections.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/hookrelay/internal/adapter/ws"
	"github.com/Strob0t/hookrelay/internal/domain/hookevent"
)

// ConnPool holds at most size live connections to one endpoint. Connections
// are dialed lazily and reused round-robin. It implements transport.Sink.
type ConnPool struct {
	url   string
	slots []*slot
	next  atomic.Uint64
	sem   *semaphore.Weighted
	log   *slog.Logger

	closeOnce sync.Once
	closed    atomic.Bool
}

type slot struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// NewConnPool creates a pool for url holding at most size connections.
func NewConnPool(url string, size int, log *slog.Logger) *ConnPool {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = slog.Default()
	}
	slots := make([]*slot, size)
	for i := range slots {
		slots[i] = &slot{}
	}
	return &ConnPool{
		url:   url,
		slots: slots,
		sem:   semaphore.NewWeighted(int64(size)),
		log:   log,
	}
}

// MaxInFlight lets the outbound pool keep every connection busy.
func (p *ConnPool) MaxInFlight() int { return len(p.slots) }

// Name returns the endpoint URL.
func (p *ConnPool) Name() string { return p.url }

// Send writes one batch as a single message on the next connection in
// rotation, dialing it first if needed. A failed write discards that
// connection so the next use redials.
func (p *ConnPool) Send(ctx context.Context, events []hookevent.Event) error {
	if p.closed.Load() {
		return fmt.Errorf("send to %s: pool closed", p.url)
	}
	data, err := json.Marshal(ws.Message{Type: ws.MessageEvents, Events: events})
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer p.sem.Release(1)

	s := p.slots[(p.next.Add(1)-1)%uint64(len(p.slots))]
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		if err := p.dial(ctx, s); err != nil {
			return err
		}
	}
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		s.reset()
		return fmt.Errorf("write to %s: %w", p.url, err)
	}
	return nil
}

// dial must be called with s.mu held.
func (p *ConnPool) dial(ctx context.Context, s *slot) error {
	c, _, err := websocket.Dial(ctx, p.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.url, err)
	}
	// The endpoint never sends data; CloseRead keeps control frames flowing.
	connCtx, cancel := context.WithCancel(context.Background())
	c.CloseRead(connCtx)
	s.conn = c
	s.cancel = cancel
	p.log.Debug("observer endpoint connected", "url", p.url)
	return nil
}

// reset must be called with s.mu held.
func (s *slot) reset() {
	if s.conn == nil {
		return
	}
	s.cancel()
	_ = s.conn.CloseNow()
	s.conn = nil
	s.cancel = nil
}

// ConnectionCount returns the number of live connections.
func (p *ConnPool) ConnectionCount() int {
	n := 0
	for _, s := range p.slots {
		s.mu.Lock()
		if s.conn != nil {
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// Close closes every connection.
func (p *ConnPool) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		for _, s := range p.slots {
			s.mu.Lock()
			if s.conn != nil {
				s.cancel()
				_ = s.conn.Close(websocket.StatusNormalClosure, "")
				s.conn = nil
			}
			s.mu.Unlock()
		}
	})
	return nil
}

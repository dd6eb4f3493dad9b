package outbound

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/hookrelay/internal/domain/hookevent"
)

// FallbackQueue holds events that could not be delivered while a circuit was
// open. It is bounded; pushing into a full queue drops the oldest entries.
type FallbackQueue struct {
	mu      sync.Mutex
	events  []hookevent.Event
	cap     int
	dropped int64
}

// NewFallbackQueue creates a queue holding at most capacity events.
func NewFallbackQueue(capacity int) *FallbackQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &FallbackQueue{cap: capacity}
}

// Push appends events, dropping the oldest when the cap is exceeded.
// It returns the number of events dropped by this call.
func (q *FallbackQueue) Push(events ...hookevent.Event) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(q.events, events...)
	over := len(q.events) - q.cap
	if over <= 0 {
		return 0
	}
	q.events = append(q.events[:0:0], q.events[over:]...)
	q.dropped += int64(over)
	return over
}

// Peek returns a copy of up to n of the oldest events without removing them.
func (q *FallbackQueue) Peek(n int) []hookevent.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.events) {
		n = len(q.events)
	}
	out := make([]hookevent.Event, n)
	copy(out, q.events[:n])
	return out
}

// Discard removes the n oldest events.
func (q *FallbackQueue) Discard(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.events) {
		n = len(q.events)
	}
	q.events = q.events[n:]
}

// Drain removes and returns every queued event.
func (q *FallbackQueue) Drain() []hookevent.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

// Len returns the number of queued events.
func (q *FallbackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Dropped returns the number of events dropped since creation.
func (q *FallbackQueue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Spill writes events as JSON lines to a new file in dir and returns its path.
func Spill(dir, destination string, events []hookevent.Event, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create spill dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.jsonl", safeName(destination), now.UTC().Format("20060102T150405.000000000"))
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create spill file: %w", err)
	}
	enc := json.NewEncoder(f)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("write spill file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close spill file: %w", err)
	}
	return path, nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

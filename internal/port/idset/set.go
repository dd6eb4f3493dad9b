// Package idset defines the port for the monotonically growing set of
// task-list item ids that have already been routed.
package idset

import (
	"context"
	"sync"
)

// Set records processed ids. Ids are never removed.
type Set interface {
	// Add inserts id and reports whether it was not present before.
	Add(ctx context.Context, id string) (bool, error)
}

// Memory is an in-process Set.
type Memory struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewMemory creates an empty in-process set.
func NewMemory() *Memory {
	return &Memory{ids: make(map[string]struct{})}
}

// Add inserts id and reports whether it was new.
func (m *Memory) Add(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[id]; ok {
		return false, nil
	}
	m.ids[id] = struct{}{}
	return true, nil
}

// Len returns the number of recorded ids.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids)
}

// Layered consults a local set before a remote one, so a restart that keeps
// the remote set does not reprocess ids.
type Layered struct {
	Local  *Memory
	Remote Set
}

// Add marks id in both layers. It reports true only when neither layer had it.
// A remote failure is returned after the local layer has recorded the id.
func (l *Layered) Add(ctx context.Context, id string) (bool, error) {
	added, _ := l.Local.Add(ctx, id)
	if !added {
		return false, nil
	}
	if l.Remote == nil {
		return true, nil
	}
	return l.Remote.Add(ctx, id)
}

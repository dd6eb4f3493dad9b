package service

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/Strob0t/hookrelay/internal/domain/delegation"
	"github.com/Strob0t/hookrelay/internal/domain/todo"
	"github.com/Strob0t/hookrelay/internal/port/idset"
)

// DelegationFunc receives every delegation derived from the task list.
type DelegationFunc func(ctx context.Context, m delegation.Mapping)

// RouterStats counts router activity since start.
type RouterStats struct {
	Scans            int64 `json:"scans"`
	Routed           int64 `json:"routed"`
	SkippedCompleted int64 `json:"skipped_completed"`
	SkippedProcessed int64 `json:"skipped_processed"`
	ParseErrors      int64 `json:"parse_errors"`
	SetErrors        int64 `json:"set_errors"`
}

// TodoRouter turns task-list items into agent delegations. Each item id is
// routed at most once for the lifetime of the processed set.
type TodoRouter struct {
	classifier todo.Classifier
	processed  idset.Set
	emit       DelegationFunc

	scans            atomic.Int64
	routed           atomic.Int64
	skippedCompleted atomic.Int64
	skippedProcessed atomic.Int64
	parseErrors      atomic.Int64
	setErrors        atomic.Int64
}

// NewTodoRouter creates a router. emit is the single output callback.
func NewTodoRouter(classifier todo.Classifier, processed idset.Set, emit DelegationFunc) *TodoRouter {
	if processed == nil {
		processed = idset.NewMemory()
	}
	return &TodoRouter{classifier: classifier, processed: processed, emit: emit}
}

// ProcessFile parses a full task-list snapshot and routes its items.
func (r *TodoRouter) ProcessFile(ctx context.Context, data []byte) ([]delegation.Mapping, error) {
	items, err := todo.ParseList(data)
	if err != nil {
		r.parseErrors.Add(1)
		return nil, err
	}
	return r.Process(ctx, items), nil
}

// Process routes every open, not yet processed item and returns the
// emitted mappings in list order. An id is marked processed before the
// callback runs, so a failing consumer cannot cause a second emission.
func (r *TodoRouter) Process(ctx context.Context, items []todo.Item) []delegation.Mapping {
	r.scans.Add(1)
	var out []delegation.Mapping
	for _, it := range items {
		if it.Status == todo.StatusCompleted {
			r.skippedCompleted.Add(1)
			continue
		}
		id := it.ID
		if id == "" {
			id = todo.ContentID(it.Content)
		}

		added, err := r.processed.Add(ctx, id)
		if err != nil {
			// The local layer has the id; routing once now beats never.
			r.setErrors.Add(1)
			slog.Warn("processed-id set write failed", "todo_id", id, "error", err)
		} else if !added {
			r.skippedProcessed.Add(1)
			continue
		}

		m := delegation.Mapping{
			Agent:         r.classifier.Classify(it.Content),
			Task:          it.Content,
			Source:        delegation.SourceTodo,
			DerivedFromID: id,
		}
		r.routed.Add(1)
		slog.Info("task routed", "todo_id", id, "agent", m.Agent)
		if r.emit != nil {
			r.emit(ctx, m)
		}
		out = append(out, m)
	}
	return out
}

// Stats returns a snapshot of the counters.
func (r *TodoRouter) Stats() RouterStats {
	return RouterStats{
		Scans:            r.scans.Load(),
		Routed:           r.routed.Load(),
		SkippedCompleted: r.skippedCompleted.Load(),
		SkippedProcessed: r.skippedProcessed.Load(),
		ParseErrors:      r.parseErrors.Load(),
		SetErrors:        r.setErrors.Load(),
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	hrotel "github.com/Strob0t/hookrelay/internal/adapter/otel"
	"github.com/Strob0t/hookrelay/internal/config"
	"github.com/Strob0t/hookrelay/internal/domain/hookevent"
	"github.com/Strob0t/hookrelay/internal/domain/timeline"
	"github.com/Strob0t/hookrelay/internal/port/sessionstore"
)

// AggregatorStats describes the in-memory timelines and flush history.
type AggregatorStats struct {
	Active         int       `json:"active"`
	Retained       int       `json:"retained"`
	RetainedEvents int       `json:"retained_events"`
	Flushed        int64     `json:"flushed"`
	FlushFailures  int64     `json:"flush_failures"`
	Dropped        int64     `json:"dropped"`
	DroppedEvents  int64     `json:"dropped_events"`
	LastError      string    `json:"last_error,omitempty"`
	LastErrorAt    time.Time `json:"last_error_at,omitzero"`
}

// sessionTimeline is the ordered event list of one open session.
type sessionTimeline struct {
	events    []hookevent.Event
	lastSeen  time.Time
	endReason timeline.EndReason
	flushing  bool
	again     timeline.EndReason // set when the session ended again during a flush
	retained  bool               // the last flush failed
}

// Aggregator keeps one timeline per session and writes it to the store when
// the session ends or goes idle. A timeline is evicted only after its
// document was written; a failed write keeps it in memory for the next sweep.
type Aggregator struct {
	mu        sync.Mutex
	timelines map[string]*sessionTimeline
	stats     AggregatorStats

	store   sessionstore.Store
	cfg     config.Aggregator
	metrics Metrics
	wg      sync.WaitGroup
	now     func() time.Time // for testing
}

// NewAggregator creates an aggregator writing to store.
func NewAggregator(cfg config.Aggregator, store sessionstore.Store, metrics Metrics) *Aggregator {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.FlushRetries < 0 {
		cfg.FlushRetries = 0
	}
	if cfg.FlushBackoff <= 0 {
		cfg.FlushBackoff = 200 * time.Millisecond
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Aggregator{
		timelines: make(map[string]*sessionTimeline),
		store:     store,
		cfg:       cfg,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Ingest appends ev to its session's timeline. A terminal event schedules
// an asynchronous flush of that session.
func (a *Aggregator) Ingest(ev hookevent.Event) {
	a.mu.Lock()
	tl, ok := a.timelines[ev.SessionID]
	if !ok {
		tl = &sessionTimeline{}
		a.timelines[ev.SessionID] = tl
	}
	tl.events = append(tl.events, ev)
	tl.lastSeen = a.now()
	if ev.Kind.Terminal() {
		tl.endReason = endReasonFor(ev.Kind)
	}
	a.mu.Unlock()

	if ev.Kind.Terminal() {
		a.FlushAsync(ev.SessionID, endReasonFor(ev.Kind))
	}
}

func endReasonFor(kind hookevent.Kind) timeline.EndReason {
	if kind == hookevent.KindSessionEnd {
		return timeline.EndSessionEnd
	}
	return timeline.EndStop
}

// FlushAsync flushes a session in the background. FlushAll waits for it.
func (a *Aggregator) FlushAsync(sessionID string, reason timeline.EndReason) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		_ = a.Flush(context.Background(), sessionID, reason)
	}()
}

// Flush writes the session's current events as one document, retrying
// with exponential backoff, and evicts them once the write succeeded.
// Events that arrive during the write stay in the timeline; if one of them
// ended the session again, they are flushed right after.
func (a *Aggregator) Flush(ctx context.Context, sessionID string, reason timeline.EndReason) error {
	for {
		next, err := a.flushOnce(ctx, sessionID, reason)
		if err != nil || next == "" {
			return err
		}
		reason = next
	}
}

func (a *Aggregator) flushOnce(ctx context.Context, sessionID string, reason timeline.EndReason) (timeline.EndReason, error) {
	a.mu.Lock()
	tl, ok := a.timelines[sessionID]
	if !ok || len(tl.events) == 0 {
		a.mu.Unlock()
		return "", nil
	}
	if tl.flushing {
		tl.again = reason
		a.mu.Unlock()
		return "", nil
	}
	tl.flushing = true
	events := make([]hookevent.Event, len(tl.events))
	copy(events, tl.events)
	a.mu.Unlock()

	doc := timeline.NewDocument(sessionID, events, reason, a.now().UTC())
	err := a.save(ctx, &doc)

	a.mu.Lock()
	defer a.mu.Unlock()
	tl.flushing = false

	if err != nil {
		tl.retained = true
		tl.again = ""
		if tl.endReason == "" {
			tl.endReason = reason
		}
		a.stats.FlushFailures++
		a.stats.LastError = err.Error()
		a.stats.LastErrorAt = a.now()
		a.metrics.FlushFailed(ctx)
		slog.Error("session flush failed, timeline retained",
			"session_id", sessionID, "events", len(events), "error", err)
		a.enforceRetainedCap()
		return "", err
	}

	tl.events = append([]hookevent.Event(nil), tl.events[len(events):]...)
	tl.retained = false
	next := tl.again
	tl.again = ""
	if len(tl.events) == 0 {
		next = ""
		delete(a.timelines, sessionID)
	}
	a.stats.Flushed++
	a.metrics.SessionFlushed(ctx, string(reason), len(events))
	slog.Info("session flushed", "session_id", sessionID, "events", len(events), "reason", string(reason))
	return next, nil
}

func (a *Aggregator) save(ctx context.Context, doc *timeline.Document) error {
	ctx, span := hrotel.StartFlushSpan(ctx, doc.SessionID, string(doc.EndReason))
	defer span.End()
	span.SetAttributes(attribute.Int("flush.events", len(doc.Events)))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.FlushBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, a.store.Save(ctx, doc)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(a.cfg.FlushRetries)+1),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("save session %s: %w", doc.SessionID, err)
	}
	return nil
}

// enforceRetainedCap drops the least recently seen retained timelines while
// retained events exceed MaxRetainedEvents. Must be called with a.mu held.
func (a *Aggregator) enforceRetainedCap() {
	if a.cfg.MaxRetainedEvents <= 0 {
		return
	}
	type candidate struct {
		id string
		tl *sessionTimeline
	}
	var retained []candidate
	total := 0
	for id, tl := range a.timelines {
		if tl.retained {
			retained = append(retained, candidate{id, tl})
			total += len(tl.events)
		}
	}
	if total <= a.cfg.MaxRetainedEvents {
		return
	}
	sort.Slice(retained, func(i, j int) bool {
		return retained[i].tl.lastSeen.Before(retained[j].tl.lastSeen)
	})
	for _, c := range retained {
		if total <= a.cfg.MaxRetainedEvents {
			break
		}
		if c.tl.flushing {
			continue
		}
		total -= len(c.tl.events)
		a.stats.Dropped++
		a.stats.DroppedEvents += int64(len(c.tl.events))
		slog.Error("retained timeline dropped, retention cap exceeded",
			"session_id", c.id, "events", len(c.tl.events), "cap", a.cfg.MaxRetainedEvents)
		delete(a.timelines, c.id)
	}
}

// Sweep retries retained timelines and flushes sessions idle for longer
// than IdleTimeout.
func (a *Aggregator) Sweep(ctx context.Context) {
	now := a.now()
	type due struct {
		id     string
		reason timeline.EndReason
	}
	var work []due

	a.mu.Lock()
	for id, tl := range a.timelines {
		switch {
		case tl.flushing:
		case tl.retained:
			work = append(work, due{id, tl.endReason})
		case now.Sub(tl.lastSeen) > a.cfg.IdleTimeout:
			work = append(work, due{id, timeline.EndIdle})
		}
	}
	a.mu.Unlock()

	for _, d := range work {
		if ctx.Err() != nil {
			return
		}
		_ = a.Flush(ctx, d.id, d.reason)
	}
}

// Run sweeps every interval until ctx is done.
func (a *Aggregator) Run(ctx context.Context) {
	interval := a.cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Sweep(ctx)
		}
	}
}

// FlushAll waits for background flushes, then flushes every remaining
// timeline. Timelines that still cannot be written are logged with their
// event count and reported in the returned error.
func (a *Aggregator) FlushAll(ctx context.Context) error {
	a.wg.Wait()

	a.mu.Lock()
	ids := make([]string, 0, len(a.timelines))
	for id := range a.timelines {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := a.Flush(ctx, id, timeline.EndShutdown); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LatestSession returns the most recently active session id, or "".
func (a *Aggregator) LatestSession() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var (
		latest string
		seen   time.Time
	)
	for id, tl := range a.timelines {
		if tl.lastSeen.After(seen) {
			latest, seen = id, tl.lastSeen
		}
	}
	return latest
}

// Stats returns a snapshot of timeline and flush state.
func (a *Aggregator) Stats() AggregatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.stats
	for _, tl := range a.timelines {
		if tl.retained {
			s.Retained++
			s.RetainedEvents += len(tl.events)
		} else {
			s.Active++
		}
	}
	return s
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/hookrelay/internal/domain/delegation"
	"github.com/Strob0t/hookrelay/internal/domain/hookevent"
	"github.com/Strob0t/hookrelay/internal/outbound"
	"github.com/Strob0t/hookrelay/internal/resilience"
)

// Emitter fans events out to observers.
type Emitter interface {
	Emit(events ...hookevent.Event) error
	Stats() outbound.Stats
}

// Health is the relay status served on the observer listener.
type Health struct {
	Status     string          `json:"status"`
	Pool       outbound.Stats  `json:"pool"`
	Sessions   AggregatorStats `json:"sessions"`
	Correlator CorrelatorStats `json:"correlator"`
	Router     *RouterStats    `json:"router,omitempty"`
}

// Relay is the long-lived ingestion pipeline. Events for one session are
// handled in arrival order; sessions proceed in parallel.
type Relay struct {
	normalizer *Normalizer
	correlator *Correlator
	aggregator *Aggregator
	emitter    Emitter
	metrics    Metrics
	locks      *keyLock

	router       *TodoRouter
	onPair       func(ctx context.Context, p delegation.Pair)
	onDelegation DelegationFunc

	newID func() string
	now   func() time.Time
}

// NewRelay creates a relay over its pipeline stages.
func NewRelay(n *Normalizer, c *Correlator, a *Aggregator, e Emitter, metrics Metrics) *Relay {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Relay{
		normalizer: n,
		correlator: c,
		aggregator: a,
		emitter:    e,
		metrics:    metrics,
		locks:      newKeyLock(),
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// SetRouter attaches the task-list router so its stats appear in Health.
func (r *Relay) SetRouter(tr *TodoRouter) { r.router = tr }

// SetOnPair registers the observer for matched delegation pairs.
func (r *Relay) SetOnPair(fn func(ctx context.Context, p delegation.Pair)) { r.onPair = fn }

// SetOnDelegation registers the orchestration callback for task-list delegations.
func (r *Relay) SetOnDelegation(fn DelegationFunc) { r.onDelegation = fn }

// Ingest normalizes one raw event body and runs it through the pipeline.
// The normalized event is always returned; the error reports only a
// failure to hand it to the outbound pool.
func (r *Relay) Ingest(ctx context.Context, body []byte, processContext string) (hookevent.Event, error) {
	ev := r.normalizer.NormalizeBytes(body, processContext, r.now())
	if ev.Kind == hookevent.KindMalformed {
		slog.Warn("malformed hook event", "session_id", ev.SessionID, "process_context", processContext)
	}
	return ev, r.Handle(ctx, ev)
}

// Handle runs a normalized event through correlation, aggregation and fan-out.
func (r *Relay) Handle(ctx context.Context, ev hookevent.Event) error {
	unlock := r.locks.Lock(ev.SessionID)
	defer unlock()

	r.metrics.EventIngested(ctx, string(ev.Kind))
	out := []hookevent.Event{ev}
	if matched, ok := r.correlate(ctx, ev); ok {
		out = append(out, matched)
	}
	r.aggregator.Ingest(ev)

	if err := r.emitter.Emit(out...); err != nil {
		return fmt.Errorf("emit %s event: %w", ev.Kind, err)
	}
	return nil
}

// correlate feeds delegation tool calls and subagent completions to the
// correlator and returns a delegation_matched event for a completed pair.
func (r *Relay) correlate(ctx context.Context, ev hookevent.Event) (hookevent.Event, bool) {
	switch ev.Kind {
	case hookevent.KindPreToolUse:
		tool, ok := ev.Tool()
		if !ok || !tool.Delegation {
			return hookevent.Event{}, false
		}
		r.correlator.RecordRequest(delegation.Request{
			SessionID:       ev.SessionID,
			AgentType:       ev.AgentType,
			TaskDescription: tool.Description,
			ToolName:        tool.ToolName,
			RequestedAt:     ev.Timestamp,
		})
		return hookevent.Event{}, false

	case hookevent.KindSubagentStop:
		outcome := DefaultOutcome
		if p, ok := ev.Payload.(*hookevent.SubagentPayload); ok && p.Outcome != "" {
			outcome = p.Outcome
		}
		pair, ok := r.correlator.RecordCompletion(delegation.Completion{
			SessionID:   ev.SessionID,
			AgentType:   ev.AgentType,
			Outcome:     outcome,
			CompletedAt: ev.Timestamp,
		})
		if !ok {
			return hookevent.Event{}, false
		}
		r.metrics.DelegationMatched(ctx, pair.Fuzzy)
		if r.onPair != nil {
			r.onPair(ctx, pair)
		}
		return r.matchedEvent(ev, pair), true
	}
	return hookevent.Event{}, false
}

func (r *Relay) matchedEvent(completion hookevent.Event, p delegation.Pair) hookevent.Event {
	agent := p.Request.AgentType
	if agent == "" {
		agent = p.Completion.AgentType
	}
	ev := hookevent.Event{
		ID:                 r.newID(),
		SchemaVersion:      hookevent.SchemaVersion,
		Kind:               hookevent.KindDelegationMatched,
		SessionID:          completion.SessionID,
		SessionIDSynthetic: completion.SessionIDSynthetic,
		AgentType:          agent,
		Timestamp:          completion.Timestamp,
		WorkingDirectory:   completion.WorkingDirectory,
		Payload: &hookevent.DelegationMatchedPayload{
			RequestSessionID: p.Request.SessionID,
			AgentType:        agent,
			TaskDescription:  p.Request.TaskDescription,
			ToolName:         p.Request.ToolName,
			Outcome:          p.Completion.Outcome,
			RequestedAt:      p.Request.RequestedAt,
			CompletedAt:      p.Completion.CompletedAt,
			Fuzzy:            p.Fuzzy,
		},
	}
	if agent != "" {
		ev.AgentID = AgentID(completion.SessionID, agent)
	}
	return ev
}

// RouteDelegation emits a task-list delegation as an event attributed to the
// most recently active session, or to a synthetic one when none is open,
// and passes it to the orchestration callback.
func (r *Relay) RouteDelegation(ctx context.Context, m delegation.Mapping) {
	sessionID, synthetic := r.aggregator.LatestSession(), false
	if sessionID == "" {
		sessionID, synthetic = "syn-"+r.newID(), true
	}
	ev := hookevent.Event{
		ID:                 r.newID(),
		SchemaVersion:      hookevent.SchemaVersion,
		Kind:               hookevent.KindDelegation,
		SessionID:          sessionID,
		SessionIDSynthetic: synthetic,
		AgentType:          m.Agent,
		AgentID:            AgentID(sessionID, m.Agent),
		Timestamp:          r.now().UTC(),
		Payload: &hookevent.DelegationPayload{
			Agent:         m.Agent,
			Task:          m.Task,
			Source:        m.Source,
			DerivedFromID: m.DerivedFromID,
		},
	}

	r.metrics.DelegationRouted(ctx, m.Agent)
	unlock := r.locks.Lock(sessionID)
	err := r.emitter.Emit(ev)
	unlock()
	if err != nil {
		slog.Warn("delegation not emitted", "agent", m.Agent, "item_id", m.DerivedFromID, "error", err)
	}
	if r.onDelegation != nil {
		r.onDelegation(ctx, m)
	}
}

// Health returns a snapshot of every pipeline stage. Status is "degraded"
// while timelines are retained after failed flushes or a destination
// circuit is open.
func (r *Relay) Health() Health {
	h := Health{
		Status:     "ok",
		Pool:       r.emitter.Stats(),
		Sessions:   r.aggregator.Stats(),
		Correlator: r.correlator.Stats(),
	}
	if r.router != nil {
		s := r.router.Stats()
		h.Router = &s
	}
	if h.Sessions.Retained > 0 {
		h.Status = "degraded"
	}
	for _, state := range h.Pool.CircuitState {
		if state == resilience.StateOpen {
			h.Status = "degraded"
		}
	}
	return h
}

package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "hookrelay"

// Metrics holds the relay's metric instruments.
type Metrics struct {
	EventsIngested     metric.Int64Counter
	SessionsFlushed    metric.Int64Counter
	FlushFailures      metric.Int64Counter
	DelegationsMatched metric.Int64Counter
	DelegationsRouted  metric.Int64Counter

	meter metric.Meter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{meter: meter}
	var err error

	m.EventsIngested, err = meter.Int64Counter("hookrelay.events.ingested",
		metric.WithDescription("Number of hook events ingested"))
	if err != nil {
		return nil, err
	}

	m.SessionsFlushed, err = meter.Int64Counter("hookrelay.sessions.flushed",
		metric.WithDescription("Number of session timelines written to the store"))
	if err != nil {
		return nil, err
	}

	m.FlushFailures, err = meter.Int64Counter("hookrelay.sessions.flush_failures",
		metric.WithDescription("Number of session flushes that failed after retries"))
	if err != nil {
		return nil, err
	}

	m.DelegationsMatched, err = meter.Int64Counter("hookrelay.delegations.matched",
		metric.WithDescription("Number of delegation requests paired with a completion"))
	if err != nil {
		return nil, err
	}

	m.DelegationsRouted, err = meter.Int64Counter("hookrelay.delegations.routed",
		metric.WithDescription("Number of delegations derived from the task list"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// EventIngested counts one normalized event.
func (m *Metrics) EventIngested(ctx context.Context, kind string) {
	m.EventsIngested.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// SessionFlushed counts one persisted timeline.
func (m *Metrics) SessionFlushed(ctx context.Context, reason string, _ int) {
	m.SessionsFlushed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// FlushFailed counts one flush that exhausted its retries.
func (m *Metrics) FlushFailed(ctx context.Context) {
	m.FlushFailures.Add(ctx, 1)
}

// DelegationMatched counts one correlated pair.
func (m *Metrics) DelegationMatched(ctx context.Context, fuzzy bool) {
	m.DelegationsMatched.Add(ctx, 1, metric.WithAttributes(attribute.Bool("fuzzy", fuzzy)))
}

// DelegationRouted counts one task-list delegation.
func (m *Metrics) DelegationRouted(ctx context.Context, agent string) {
	m.DelegationsRouted.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agent)))
}

// ObserveGauge registers an observable gauge read from fn at collection time.
func (m *Metrics) ObserveGauge(name, description string, fn func() int64) error {
	_, err := m.meter.Int64ObservableGauge(name,
		metric.WithDescription(description),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(fn())
			return nil
		}))
	return err
}

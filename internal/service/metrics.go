package service

import "context"

// Metrics receives pipeline counters.
type Metrics interface {
	EventIngested(ctx context.Context, kind string)
	SessionFlushed(ctx context.Context, reason string, events int)
	FlushFailed(ctx context.Context)
	DelegationMatched(ctx context.Context, fuzzy bool)
	DelegationRouted(ctx context.Context, agent string)
}

type nopMetrics struct{}

func (nopMetrics) EventIngested(context.Context, string)       {}
func (nopMetrics) SessionFlushed(context.Context, string, int) {}
func (nopMetrics) FlushFailed(context.Context)                 {}
func (nopMetrics) DelegationMatched(context.Context, bool)     {}
func (nopMetrics) DelegationRouted(context.Context, string)    {}

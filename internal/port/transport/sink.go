// Package transport defines the port for outbound event destinations.
package transport

import (
	"context"

	"github.com/Strob0t/hookrelay/internal/domain/hookevent"
)

// Sink delivers batches of normalized events to one destination.
type Sink interface {
	// Name identifies the destination in stats and logs.
	Name() string

	// Send delivers one batch. It must honor ctx cancellation; a deadline
	// exceeded is reported as an error and counts as a delivery failure.
	Send(ctx context.Context, events []hookevent.Event) error
}

// Counter is implemented by sinks that hold live connections.
type Counter interface {
	ConnectionCount() int
}

// Concurrent is implemented by sinks that accept several batches in flight
// at once. The pool sends up to MaxInFlight batches in parallel to them.
type Concurrent interface {
	MaxInFlight() int
}

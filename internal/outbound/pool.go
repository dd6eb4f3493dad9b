// Package outbound delivers the normalized event stream to observer
// destinations with per-destination batching, circuit breaking and a bounded
// fallback queue.
package outbound

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/hookrelay/internal/config"
	"github.com/Strob0t/hookrelay/internal/domain/hookevent"
	"github.com/Strob0t/hookrelay/internal/port/transport"
	"github.com/Strob0t/hookrelay/internal/resilience"
)

// ErrClosed is returned by Emit after Close has been called.
var ErrClosed = errors.New("outbound pool is closed")

// Options tunes a Pool. Zero values are replaced by defaults.
type Options struct {
	BatchWindow time.Duration
	MaxBatch    int
	MaxPending  int
	FallbackCap int
	SendTimeout time.Duration
	SpillDir    string

	MaxFailures       int
	BreakerTimeout    time.Duration
	BreakerMaxTimeout time.Duration
}

// OptionsFromConfig maps pool and breaker configuration onto Options.
func OptionsFromConfig(p config.Pool, b config.Breaker) Options {
	return Options{
		BatchWindow:       p.BatchWindow,
		MaxBatch:          p.MaxBatch,
		MaxPending:        p.MaxPending,
		FallbackCap:       p.FallbackCap,
		SendTimeout:       p.SendTimeout,
		SpillDir:          p.SpillDir,
		MaxFailures:       b.MaxFailures,
		BreakerTimeout:    b.Timeout,
		BreakerMaxTimeout: b.MaxTimeout,
	}
}

func (o *Options) applyDefaults() {
	if o.BatchWindow <= 0 {
		o.BatchWindow = 50 * time.Millisecond
	}
	if o.MaxBatch < 1 {
		o.MaxBatch = 100
	}
	if o.MaxPending < o.MaxBatch {
		o.MaxPending = 50 * o.MaxBatch
	}
	if o.FallbackCap < 1 {
		o.FallbackCap = 1000
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 2 * time.Second
	}
	if o.MaxFailures < 1 {
		o.MaxFailures = 5
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 5 * time.Second
	}
}

// Pool fans events out to its destinations. Each destination runs its own
// goroutine with its own breaker and queues, so a slow or failing
// destination never delays the others.
type Pool struct {
	opts  Options
	log   *slog.Logger
	dests []*destination

	mu     sync.RWMutex // guards closed against concurrent Emit
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

type destination struct {
	sink     transport.Sink
	breaker  *resilience.Breaker
	fallback *FallbackQueue
	signal   chan struct{}

	mu      sync.Mutex
	pending []hookevent.Event

	sent           atomic.Int64
	failed         atomic.Int64
	shortCircuited atomic.Int64
	pendingDropped atomic.Int64
}

// New creates a pool delivering to sinks and starts one flush loop per sink.
func New(opts Options, log *slog.Logger, sinks ...transport.Sink) *Pool {
	opts.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{
		opts: opts,
		log:  log,
		done: make(chan struct{}),
	}
	for _, s := range sinks {
		d := &destination{
			sink:     s,
			breaker:  resilience.NewBreaker(opts.MaxFailures, opts.BreakerTimeout, opts.BreakerMaxTimeout),
			fallback: NewFallbackQueue(opts.FallbackCap),
			signal:   make(chan struct{}, 1),
		}
		p.dests = append(p.dests, d)
		p.wg.Add(1)
		go p.run(d)
	}
	return p
}

// Emit queues events for every destination. It never blocks on delivery.
func (p *Pool) Emit(events ...hookevent.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	if len(events) == 0 {
		return nil
	}
	for _, d := range p.dests {
		d.enqueue(events, p.opts.MaxPending, p.opts.MaxBatch)
	}
	return nil
}

func (d *destination) enqueue(events []hookevent.Event, maxPending, maxBatch int) {
	d.mu.Lock()
	d.pending = append(d.pending, events...)
	if over := len(d.pending) - maxPending; over > 0 {
		d.pending = append(d.pending[:0:0], d.pending[over:]...)
		d.pendingDropped.Add(int64(over))
	}
	full := len(d.pending) >= maxBatch
	d.mu.Unlock()

	if full {
		select {
		case d.signal <- struct{}{}:
		default:
		}
	}
}

func (d *destination) take(n int) []hookevent.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return nil
	}
	if n > len(d.pending) {
		n = len(d.pending)
	}
	batch := make([]hookevent.Event, n)
	copy(batch, d.pending[:n])
	d.pending = d.pending[n:]
	return batch
}

func (d *destination) pendingLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (p *Pool) run(d *destination) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.opts.BatchWindow)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		case <-d.signal:
		}
		p.flush(context.Background(), d)
	}
}

// flush drains the fallback queue when the circuit admits calls, then sends
// pending events in batches of at most MaxBatch. A transport.Concurrent sink
// gets up to MaxInFlight batches at once, so batch order across one round is
// not preserved for it.
func (p *Pool) flush(ctx context.Context, d *destination) {
	if d.fallback.Len() > 0 && d.breaker.State() != resilience.StateOpen {
		p.drainFallback(ctx, d)
	}
	inFlight := 1
	if c, ok := d.sink.(transport.Concurrent); ok && c.MaxInFlight() > 1 {
		inFlight = c.MaxInFlight()
	}
	for ctx.Err() == nil {
		var batches [][]hookevent.Event
		for len(batches) < inFlight {
			batch := d.take(p.opts.MaxBatch)
			if len(batch) == 0 {
				break
			}
			batches = append(batches, batch)
		}
		if len(batches) == 0 {
			return
		}

		errs := make([]error, len(batches))
		if len(batches) == 1 {
			errs[0] = p.send(d, batches[0])
		} else {
			var g errgroup.Group
			for i, batch := range batches {
				g.Go(func() error {
					errs[i] = p.send(d, batch)
					return nil
				})
			}
			_ = g.Wait()
		}

		for i, err := range errs {
			if err == nil {
				continue
			}
			if dropped := d.fallback.Push(batches[i]...); dropped > 0 {
				p.log.Warn("fallback queue full, dropped oldest events",
					"destination", d.sink.Name(), "dropped", dropped)
			}
		}
	}
}

func (p *Pool) drainFallback(ctx context.Context, d *destination) {
	drained := 0
	for ctx.Err() == nil {
		batch := d.fallback.Peek(p.opts.MaxBatch)
		if len(batch) == 0 {
			break
		}
		if err := p.send(d, batch); err != nil {
			break
		}
		d.fallback.Discard(len(batch))
		drained += len(batch)
	}
	if drained > 0 {
		p.log.Info("fallback queue drained", "destination", d.sink.Name(), "events", drained)
	}
}

func (p *Pool) send(d *destination, batch []hookevent.Event) error {
	before := d.breaker.State()
	err := d.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.SendTimeout)
		defer cancel()
		return d.sink.Send(ctx, batch)
	})

	n := int64(len(batch))
	switch {
	case err == nil:
		d.sent.Add(n)
	case errors.Is(err, resilience.ErrCircuitOpen):
		d.shortCircuited.Add(n)
	default:
		d.failed.Add(n)
		p.log.Warn("outbound send failed", "destination", d.sink.Name(), "events", n, "error", err)
	}

	if after := d.breaker.State(); after != before {
		p.log.Info("circuit state changed", "destination", d.sink.Name(), "from", before.String(), "to", after.String())
	}
	return err
}

// Close stops accepting events, flushes pending batches until ctx expires,
// spills undelivered events to SpillDir and closes sinks that hold resources.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()

	var wg sync.WaitGroup
	for _, d := range p.dests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.flush(ctx, d)
		}()
	}
	wg.Wait()

	var errs []error
	for _, d := range p.dests {
		leftover := d.fallback.Drain()
		if rest := d.take(d.pendingLen()); len(rest) > 0 {
			leftover = append(leftover, rest...)
		}
		if len(leftover) > 0 {
			if p.opts.SpillDir == "" {
				p.log.Warn("undelivered events discarded on shutdown", "destination", d.sink.Name(), "events", len(leftover))
			} else {
				path, err := Spill(p.opts.SpillDir, d.sink.Name(), leftover, time.Now())
				if err != nil {
					errs = append(errs, err)
				} else {
					p.log.Info("undelivered events spilled", "destination", d.sink.Name(), "events", len(leftover), "path", path)
				}
			}
		}
		if c, ok := d.sink.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// DestinationStats is a per-destination view of delivery state.
type DestinationStats struct {
	Name            string              `json:"name"`
	Circuit         resilience.Snapshot `json:"circuit"`
	Pending         int                 `json:"pending"`
	Sent            int64               `json:"sent"`
	Failed          int64               `json:"failed"`
	ShortCircuited  int64               `json:"short_circuited"`
	FallbackQueued  int                 `json:"fallback_queued"`
	FallbackDropped int64               `json:"fallback_dropped"`
	PendingDropped  int64               `json:"pending_dropped"`
}

// Stats is a point-in-time snapshot of the whole pool.
type Stats struct {
	ConnectionsActive int                         `json:"connections_active"`
	CircuitState      map[string]resilience.State `json:"circuit_state"`
	QueuedBatchSize   int                         `json:"queued_batch_size"`
	TotalSent         int64                       `json:"total_sent"`
	TotalFailed       int64                       `json:"total_failed"`
	FallbackQueued    int                         `json:"fallback_queued"`
	FallbackDropped   int64                       `json:"fallback_dropped"`
	PendingDropped    int64                       `json:"pending_dropped"`
	Destinations      []DestinationStats          `json:"destinations"`
}

// Stats returns current counters. Safe to call concurrently with Emit.
func (p *Pool) Stats() Stats {
	s := Stats{
		CircuitState: make(map[string]resilience.State, len(p.dests)),
		Destinations: make([]DestinationStats, 0, len(p.dests)),
	}
	for _, d := range p.dests {
		ds := DestinationStats{
			Name:            d.sink.Name(),
			Circuit:         d.breaker.Snapshot(),
			Pending:         d.pendingLen(),
			Sent:            d.sent.Load(),
			Failed:          d.failed.Load(),
			ShortCircuited:  d.shortCircuited.Load(),
			FallbackQueued:  d.fallback.Len(),
			FallbackDropped: d.fallback.Dropped(),
			PendingDropped:  d.pendingDropped.Load(),
		}
		if c, ok := d.sink.(transport.Counter); ok {
			s.ConnectionsActive += c.ConnectionCount()
		}
		s.CircuitState[ds.Name] = ds.Circuit.State
		s.QueuedBatchSize += ds.Pending
		s.TotalSent += ds.Sent
		s.TotalFailed += ds.Failed
		s.FallbackQueued += ds.FallbackQueued
		s.FallbackDropped += ds.FallbackDropped
		s.PendingDropped += ds.PendingDropped
		s.Destinations = append(s.Destinations, ds)
	}
	return s
}

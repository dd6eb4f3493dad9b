// Package resilience provides reliability patterns for outbound delivery.
package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the position of a breaker in its closed/open/half-open cycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// MarshalText renders the state by name in JSON health snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a point-in-time copy of a breaker's bookkeeping.
type Snapshot struct {
	State          State         `json:"state"`
	Failures       int           `json:"failures"`
	Cooldown       time.Duration `json:"cooldown"`
	LastTransition time.Time     `json:"last_transition"`
}

// Breaker implements a circuit breaker for one outbound destination.
// It counts consecutive failures and opens the circuit when a threshold is
// reached. After the cooldown it admits exactly one trial call (half-open):
// success closes the circuit, failure reopens it with a longer cooldown.
type Breaker struct {
	mu             sync.Mutex
	state          State
	failures       int
	maxFailures    int
	cooldown       time.Duration
	backoff        *backoff.ExponentialBackOff
	openedAt       time.Time
	lastTransition time.Time
	trialInFlight  bool
	now            func() time.Time // for testing
}

// NewBreaker creates a circuit breaker that opens after maxFailures consecutive
// failures and stays open for timeout before transitioning to half-open.
// Each failed trial doubles the cooldown up to maxTimeout.
func NewBreaker(maxFailures int, timeout, maxTimeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	if maxTimeout < timeout {
		maxTimeout = timeout
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = timeout
	bo.MaxInterval = maxTimeout
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.Reset()

	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    timeout,
		backoff:     bo,
		now:         time.Now,
	}
}

// Execute runs fn if the circuit admits a call.
// Returns ErrCircuitOpen without calling fn if the circuit is open, or if it is
// half-open and the single trial call is already in flight.
func (b *Breaker) Execute(fn func() error) error {
	trial, ok := b.allowRequest()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.trialInFlight = false
	}
	if err != nil {
		b.onFailure()
		return err
	}

	b.onSuccess()
	return nil
}

// State returns the current state, promoting open to half-open when the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

// Snapshot returns a copy of the breaker's bookkeeping.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return Snapshot{
		State:          b.state,
		Failures:       b.failures,
		Cooldown:       b.cooldown,
		LastTransition: b.lastTransition,
	}
}

func (b *Breaker) allowRequest() (trial, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refresh()
	switch b.state {
	case StateClosed:
		return false, true
	case StateHalfOpen:
		if b.trialInFlight {
			return false, false
		}
		b.trialInFlight = true
		return true, true
	}
	return false, false
}

// refresh must be called with b.mu held.
func (b *Breaker) refresh() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.transition(StateHalfOpen)
	}
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	switch {
	case b.state == StateHalfOpen:
		b.cooldown = b.backoff.NextBackOff()
		b.open()
	case b.state == StateClosed && b.failures >= b.maxFailures:
		b.backoff.Reset()
		b.cooldown = b.backoff.NextBackOff()
		b.open()
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.transition(StateOpen)
}

func (b *Breaker) transition(s State) {
	b.state = s
	b.lastTransition = b.now()
}

package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/hookrelay/internal/config"
	"github.com/Strob0t/hookrelay/internal/domain/delegation"
)

// CorrelatorStats counts correlation outcomes since start.
type CorrelatorStats struct {
	Pending      int   `json:"pending"`
	Recorded     int64 `json:"recorded"`
	Replaced     int64 `json:"replaced"`
	Matched      int64 `json:"matched"`
	FuzzyMatched int64 `json:"fuzzy_matched"`
	Orphaned     int64 `json:"orphaned"`
	Missed       int64 `json:"missed"`
}

type pendingRequest struct {
	req        delegation.Request
	seq        uint64
	recordedAt time.Time
}

// Correlator pairs delegation requests with their completions. The host
// tool's session id can drift across nested process boundaries, so a
// completion without an exact match is paired with the pending request
// sharing the longest session-id prefix, if that prefix is long enough.
type Correlator struct {
	mu        sync.Mutex
	pending   map[string]*pendingRequest
	seq       uint64
	ttl       time.Duration
	minPrefix int
	stats     CorrelatorStats
	now       func() time.Time // for testing
}

// NewCorrelator creates a correlator from configuration.
func NewCorrelator(cfg config.Correlator) *Correlator {
	minPrefix := cfg.MinPrefix
	if minPrefix < 1 {
		minPrefix = 6
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &Correlator{
		pending:   make(map[string]*pendingRequest),
		ttl:       ttl,
		minPrefix: minPrefix,
		now:       time.Now,
	}
}

// RecordRequest stores req as pending under its session id. An existing
// request for the same session is replaced.
func (c *Correlator) RecordRequest(req delegation.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.pending[req.SessionID]; ok {
		c.stats.Replaced++
		slog.Warn("delegation request replaced",
			"session_id", req.SessionID,
			"previous_agent", old.req.AgentType,
			"agent", req.AgentType,
		)
	}
	c.seq++
	c.pending[req.SessionID] = &pendingRequest{req: req, seq: c.seq, recordedAt: c.now()}
	c.stats.Recorded++
}

// RecordCompletion pairs comp with a pending request: exact session id
// first, then the longest shared prefix of at least MinPrefix characters,
// ties going to the most recently recorded request. A match removes the
// request. Returns false when nothing matches.
func (c *Correlator) RecordCompletion(comp delegation.Completion) (delegation.Pair, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[comp.SessionID]; ok {
		delete(c.pending, comp.SessionID)
		c.stats.Matched++
		return delegation.Pair{Request: p.req, Completion: comp}, true
	}

	var best *pendingRequest
	bestLen := 0
	for key, p := range c.pending {
		if !delegation.PrefixMatch(key, comp.SessionID, c.minPrefix) {
			continue
		}
		n := delegation.CommonPrefixLen(key, comp.SessionID)
		if n > bestLen || (n == bestLen && p.seq > best.seq) {
			best, bestLen = p, n
		}
	}
	if best == nil {
		c.stats.Missed++
		slog.Info("orphan delegation completion",
			"session_id", comp.SessionID,
			"agent", comp.AgentType,
			"outcome", comp.Outcome,
			"pending", len(c.pending),
		)
		return delegation.Pair{}, false
	}

	delete(c.pending, best.req.SessionID)
	c.stats.Matched++
	c.stats.FuzzyMatched++
	slog.Debug("delegation matched by prefix",
		"request_session_id", best.req.SessionID,
		"completion_session_id", comp.SessionID,
		"shared_prefix", bestLen,
	)
	return delegation.Pair{Request: best.req, Completion: comp, Fuzzy: true}, true
}

// Sweep removes requests recorded more than TTL before now and returns them.
func (c *Correlator) Sweep(now time.Time) []delegation.Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	var orphans []delegation.Request
	for key, p := range c.pending {
		if now.Sub(p.recordedAt) > c.ttl {
			orphans = append(orphans, p.req)
			delete(c.pending, key)
		}
	}
	c.stats.Orphaned += int64(len(orphans))
	return orphans
}

// Run sweeps expired requests every interval until ctx is done.
func (c *Correlator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, req := range c.Sweep(c.now()) {
				slog.Info("orphan delegation request expired",
					"session_id", req.SessionID,
					"agent", req.AgentType,
					"requested_at", req.RequestedAt,
				)
			}
		}
	}
}

// Pending returns the number of unmatched requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stats returns a snapshot of the counters.
func (c *Correlator) Stats() CorrelatorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Pending = len(c.pending)
	return s
}

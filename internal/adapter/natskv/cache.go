// Package natskv implements the processed-id set on a NATS JetStream
// KeyValue bucket, so routed task-list ids survive relay restarts.
package natskv

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/crypto/blake2b"
)

// ProcessedSet wraps a NATS JetStream KeyValue bucket as an idset.Set.
type ProcessedSet struct {
	kv jetstream.KeyValue
}

// New creates a KV-backed processed-id set.
func New(kv jetstream.KeyValue) *ProcessedSet {
	return &ProcessedSet{kv: kv}
}

// Add creates the key for id. Create fails on an existing key, which makes
// the check-and-insert atomic across relay instances.
func (s *ProcessedSet) Add(ctx context.Context, id string) (bool, error) {
	_, err := s.kv.Create(ctx, Key(id), []byte(time.Now().UTC().Format(time.RFC3339)))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}
		return false, fmt.Errorf("kv create: %w", err)
	}
	return true, nil
}

// Key maps an arbitrary item id onto the KV key alphabet.
func Key(id string) string {
	sum := blake2b.Sum256([]byte(id))
	return "id." + hex.EncodeToString(sum[:16])
}

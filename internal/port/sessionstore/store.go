// Package sessionstore defines the port for persisting flushed session timelines.
package sessionstore

import (
	"context"

	"github.com/Strob0t/hookrelay/internal/domain/timeline"
)

// Store persists flushed session documents. Documents are never overwritten:
// a second flush of the same session id is stored alongside the first.
type Store interface {
	// Save durably writes doc. The document is visible to readers only
	// once Save returns nil.
	Save(ctx context.Context, doc *timeline.Document) error

	// Load returns the most recently saved document for a session.
	// Returns domain.ErrNotFound if none exists.
	Load(ctx context.Context, sessionID string) (*timeline.Document, error)
}

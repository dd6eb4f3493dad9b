package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/hookrelay/internal/domain"
	"github.com/Strob0t/hookrelay/internal/domain/timeline"
)

// SessionStore implements sessionstore.Store using PostgreSQL. Rows are only
// ever inserted; a repeated flush of a session gets the next seq.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a store backed by the given connection pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Save inserts doc as the next document for its session.
func (s *SessionStore) Save(ctx context.Context, doc *timeline.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	summary, err := json.Marshal(doc.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO session_documents (session_id, seq, end_reason, flushed_at, event_count, summary, document)
		 SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, $6
		 FROM session_documents WHERE session_id = $1`,
		doc.SessionID, string(doc.EndReason), doc.FlushedAt, doc.Summary.EventCount, summary, body)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("save session %s: %w", doc.SessionID, domain.ErrConflict)
		}
		return fmt.Errorf("save session %s: %w", doc.SessionID, err)
	}
	return nil
}

// Load returns the latest document stored for sessionID.
func (s *SessionStore) Load(ctx context.Context, sessionID string) (*timeline.Document, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM session_documents WHERE session_id = $1 ORDER BY seq DESC LIMIT 1`,
		sessionID).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	var doc timeline.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &doc, nil
}

// Count returns how many documents are stored for sessionID.
func (s *SessionStore) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM session_documents WHERE session_id = $1`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count session %s: %w", sessionID, err)
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

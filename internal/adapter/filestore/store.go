// Package filestore keeps flushed session documents as JSON files in an
// append-only directory, one file per flush.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Strob0t/hookrelay/internal/domain"
	"github.com/Strob0t/hookrelay/internal/domain/timeline"
)

// maxSuffix bounds the search for a free "~N" file name.
const maxSuffix = 10000

// Store implements sessionstore.Store on a local directory.
type Store struct {
	dir string
}

// New creates a store writing into dir. The directory is created on first save.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the document directory.
func (s *Store) Dir() string { return s.dir }

// Save writes doc to "<session_id>.json", or "<session_id>~N.json" when that
// name is taken. The document is written to a temp file, synced, then
// published with a hard link, so a reader never sees a partial file and an
// existing document is never replaced.
func (s *Store) Save(_ context.Context, doc *timeline.Document) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	base := FileBase(doc.SessionID)
	for n := 0; n < maxSuffix; n++ {
		target := filepath.Join(s.dir, fileName(base, n))
		err := os.Link(tmpName, target)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("publish %s: %w", target, err)
		}
	}
	return fmt.Errorf("publish session %s: %w", doc.SessionID, domain.ErrConflict)
}

// Load returns the highest-numbered document for sessionID. Documents
// whose embedded session id differs are skipped.
func (s *Store) Load(_ context.Context, sessionID string) (*timeline.Document, error) {
	base := FileBase(sessionID)
	var paths []string
	for n := 0; n < maxSuffix; n++ {
		path := filepath.Join(s.dir, fileName(base, n))
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				break
			}
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		paths = append(paths, path)
	}

	for i := len(paths) - 1; i >= 0; i-- {
		data, err := os.ReadFile(paths[i])
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", paths[i], err)
		}
		var doc timeline.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", paths[i], err)
		}
		if doc.SessionID == sessionID {
			return &doc, nil
		}
	}
	return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
}

// FileBase maps a session id onto a file name stem. Letters, digits, '-',
// '_' and '.' are kept; every other byte becomes %XX, so distinct ids never
// share a stem and '~' never appears in one. The empty id maps to "%".
func FileBase(sessionID string) string {
	if sessionID == "" {
		return "%"
	}
	var b strings.Builder
	for i := 0; i < len(sessionID); i++ {
		c := sessionID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteByte(c)
		case c == '.' && i > 0:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// fileName appends "~N" for repeat flushes of one session.
func fileName(base string, n int) string {
	if n == 0 {
		return base + ".json"
	}
	return base + "~" + strconv.Itoa(n) + ".json"
}

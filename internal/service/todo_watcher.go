package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/blake2b"
)

// TodoWatcher feeds task-list file changes to a TodoRouter. Polling is the
// guaranteed mechanism; filesystem notifications only shorten the reaction
// time.
type TodoWatcher struct {
	path     string
	interval time.Duration
	notify   bool
	router   *TodoRouter

	// Digest of the last parsed content. Only touched by the Run goroutine.
	digest [32]byte
	seen   bool
}

// NewTodoWatcher creates a watcher for path.
func NewTodoWatcher(path string, interval time.Duration, notify bool, router *TodoRouter) *TodoWatcher {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &TodoWatcher{
		path:     filepath.Clean(path),
		interval: interval,
		notify:   notify,
		router:   router,
	}
}

// Run checks the file on every poll tick and on every notification for it
// until ctx is done.
func (w *TodoWatcher) Run(ctx context.Context) error {
	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.notify {
		fw, err := w.startNotify()
		if err != nil {
			slog.Warn("task list notifications unavailable, polling only", "path", w.path, "error", err)
		} else {
			defer func() { _ = fw.Close() }()
			events, errs = fw.Events, fw.Errors
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == w.path && ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.check(ctx)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("task list watcher error", "error", err)
		}
	}
}

func (w *TodoWatcher) startNotify() (*fsnotify.Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: the file is usually replaced, not rewritten in place.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	return fw, nil
}

func (w *TodoWatcher) check(ctx context.Context) {
	if _, err := w.Check(ctx); err != nil {
		slog.Warn("task list check failed", "path", w.path, "error", err)
	}
}

// Check reparses the file if its content changed since the last call and
// reports whether it did. The content digest is computed on every call, so
// a same-size rewrite within one mtime tick is still seen. A missing file is
// not an error.
func (w *TodoWatcher) Check(ctx context.Context) (bool, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read task list: %w", err)
	}

	digest := blake2b.Sum256(data)
	if w.seen && digest == w.digest {
		return false, nil
	}
	// A list that fails to parse is not retried until its content changes.
	w.digest, w.seen = digest, true
	if _, err := w.router.ProcessFile(ctx, data); err != nil {
		return false, err
	}
	return true, nil
}

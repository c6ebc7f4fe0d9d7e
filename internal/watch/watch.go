// Package watch signals a long-running process when another process writes
// the shared database, so it reloads instead of working from stale state.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher debounces filesystem events on the database file (and its WAL
// sidecars) into a single "changed" signal.
type Watcher struct {
	dbPath  string
	watcher *fsnotify.Watcher
	changes chan struct{}
}

// New watches the directory containing dbPath; sqlite swaps WAL and journal
// files next to the database, so watching only the file itself misses
// writes.
func New(dbPath string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(dbPath)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(dbPath), err)
	}

	w := &Watcher{
		dbPath:  dbPath,
		watcher: fsw,
		changes: make(chan struct{}, 1),
	}
	return w, nil
}

// Changes delivers at most one pending signal; a slow consumer sees one
// notification for any number of coalesced writes.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Run pumps events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			select {
			case w.changes <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return strings.HasPrefix(filepath.Base(event.Name), filepath.Base(w.dbPath))
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}

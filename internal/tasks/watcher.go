package tasks

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"pan360/internal/fsutil"
)

// SessionHandler is invoked with the session directory once a capture
// session is complete.
type SessionHandler func(dir string)

// SessionWatcher monitors rig spool directories. The capture controller
// writes frames into a session directory and drops a marker file when the
// rotation finishes; the marker triggers assembly of that directory.
type SessionWatcher struct {
	watcher *fsnotify.Watcher
	paths   []string
	marker  string
	handler SessionHandler
	log     *slog.Logger
	seen    map[string]bool
}

func NewSessionWatcher(paths []string, marker string, handler SessionHandler, log *slog.Logger) (*SessionWatcher, error) {
	if marker == "" {
		marker = "session.done"
	}
	if log == nil {
		log = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &SessionWatcher{
		watcher: watcher,
		paths:   paths,
		marker:  marker,
		handler: handler,
		log:     log,
		seen:    make(map[string]bool),
	}, nil
}

// Run watches until the context is cancelled. Sessions already finished
// before startup are dispatched first so a restart loses nothing.
func (w *SessionWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for _, path := range w.paths {
		if err := fsutil.EnsureDir(path); err != nil {
			return err
		}
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		w.log.Info("watching spool directory", "path", path, "marker", w.marker)
		for _, dir := range w.scanExisting(path) {
			w.dispatch(dir)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watcher error", "error", err)
		}
	}
}

func (w *SessionWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != fsnotify.Create {
		return
	}
	// New session directories appear under the spool; watch them so their
	// marker file is seen too.
	if fsutil.IsDir(event.Name) {
		if err := w.watcher.Add(event.Name); err != nil {
			w.log.Warn("cannot watch session directory", "path", event.Name, "error", err)
		}
		return
	}
	if filepath.Base(event.Name) == w.marker {
		w.dispatch(filepath.Dir(event.Name))
	}
}

func (w *SessionWatcher) dispatch(dir string) {
	if w.seen[dir] {
		return
	}
	w.seen[dir] = true
	w.log.Info("capture session complete", "session", dir)
	w.handler(dir)
}

// scanExisting finds session directories whose marker predates the watcher.
func (w *SessionWatcher) scanExisting(root string) []string {
	var dirs []string
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	if _, err := os.Stat(filepath.Join(root, w.marker)); err == nil {
		dirs = append(dirs, root)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		_ = w.watcher.Add(dir)
		if _, err := os.Stat(filepath.Join(dir, w.marker)); err == nil {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

package tasks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSessionWatcherDispatchesExistingSessions(t *testing.T) {
	spool := t.TempDir()
	session := filepath.Join(spool, "pano-20260831-1200")
	if err := os.MkdirAll(session, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(session, "session.done"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	got := make(chan string, 4)
	w, err := NewSessionWatcher([]string{spool}, "session.done", func(dir string) {
		got <- dir
	}, nil)
	if err != nil {
		t.Fatalf("NewSessionWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	select {
	case dir := <-got:
		if dir != session {
			t.Fatalf("dispatched %q, want %q", dir, session)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("existing session not dispatched")
	}

	cancel()
	<-done
}

func TestSessionWatcherDispatchesNewMarker(t *testing.T) {
	spool := t.TempDir()
	session := filepath.Join(spool, "pano-live")
	if err := os.MkdirAll(session, 0o755); err != nil {
		t.Fatal(err)
	}

	got := make(chan string, 4)
	w, err := NewSessionWatcher([]string{spool}, "session.done", func(dir string) {
		got <- dir
	}, nil)
	if err != nil {
		t.Fatalf("NewSessionWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	// Let the watcher register its watches before dropping the marker.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(session, "session.done"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case dir := <-got:
		if dir != session {
			t.Fatalf("dispatched %q, want %q", dir, session)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("marker creation not dispatched")
	}
}

func TestSessionWatcherDeduplicates(t *testing.T) {
	spool := t.TempDir()
	session := filepath.Join(spool, "pano-dup")
	if err := os.MkdirAll(session, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(session, "session.done"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	count := 0
	w, err := NewSessionWatcher([]string{spool}, "session.done", func(dir string) {
		count++
	}, nil)
	if err != nil {
		t.Fatalf("NewSessionWatcher: %v", err)
	}

	// Dispatch the same directory twice; the handler must run once.
	w.dispatch(session)
	w.dispatch(session)
	if count != 1 {
		t.Fatalf("handler ran %d times, want 1", count)
	}
	_ = w.watcher.Close()
}

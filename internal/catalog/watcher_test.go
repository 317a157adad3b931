package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherRemergesOnChange(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "a.yaml", specA)

	m, _ := newTestMerger(t, dir)
	w, err := NewWatcher(m)
	if err != nil {
		t.Fatal(err)
	}
	w.SetDebounce(20 * time.Millisecond)

	merged := make(chan *Result, 4)
	w.OnMerge(func(res *Result, err error) {
		if err != nil {
			return
		}
		select {
		case merged <- res:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// give the watcher a moment to start reading events
	time.Sleep(50 * time.Millisecond)
	writeSpec(t, dir, "b.yaml", specB)

	deadline := time.After(5 * time.Second)
	for found := false; !found; {
		select {
		case res := <-merged:
			found = res.Doc.Paths.Value("/b/items") != nil
		case <-deadline:
			t.Fatal("timed out waiting for merge with /b/items")
		}
	}

	if _, err := os.Stat(m.Options().OpenAPIPath); err != nil {
		t.Errorf("expected published document: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestWatcherLogsUnwatchableDirectory(t *testing.T) {
	dir := t.TempDir()
	writeSpec(t, dir, "a.yaml", specA)

	m, logs := newTestMerger(t, dir)
	w, err := NewWatcher(m)
	if err != nil {
		t.Fatal(err)
	}
	defer w.watcher.Close()

	// removed again before it could be watched
	gone := filepath.Join(dir, "gone")
	w.watchNew(gone)

	entries := logs.FilterMessage("docs watcher error").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 watcher error entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["path"] != gone {
		t.Errorf("expected path %s, got %v", gone, entries[0].ContextMap()["path"])
	}
}

package catalog

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher re-runs a Merger whenever a service document changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	merger   *Merger
	debounce time.Duration
	onMerge  func(*Result, error)

	mu    sync.Mutex
	timer *time.Timer
	runMu sync.Mutex // one merge at a time
}

// NewWatcher creates a watcher over the merger's docs directory and every
// directory below it.
func NewWatcher(m *Merger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsWatcher,
		merger:   m,
		debounce: 500 * time.Millisecond,
	}
	if err := w.addTree(m.opts.DocsPath); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	return w, nil
}

// SetDebounce sets the debounce duration for file changes
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// OnMerge registers a callback invoked after every triggered merge.
func (w *Watcher) OnMerge(fn func(*Result, error)) {
	w.onMerge = fn
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
			if info, err := os.Stat(p); err == nil && info.IsDir() {
				return w.watcher.Add(p)
			}
		}
		return nil
	})
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Chmod == event.Op {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.watchNew(event.Name)
					w.schedule()
					continue
				}
			}
			if !w.relevant(event.Name) {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.merger.logger.Error("docs watcher error", zap.Error(err))
		}
	}
}

// watchNew adds a directory created below the docs root, with everything
// already inside it.
func (w *Watcher) watchNew(dir string) {
	if err := w.addTree(dir); err != nil {
		w.merger.logger.Error("docs watcher error", zap.String("path", dir), zap.Error(err))
	}
}

// relevant reports whether name matches the merger's file pattern.
func (w *Watcher) relevant(name string) bool {
	rel, err := filepath.Rel(w.merger.opts.DocsPath, name)
	if err != nil {
		return false
	}
	ok, _ := doublestar.Match(w.merger.opts.Pattern, filepath.ToSlash(rel))
	return ok
}

// schedule debounces rapid events into one merge.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.remerge)
}

func (w *Watcher) remerge() {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	res, err := w.merger.Run()
	if err != nil {
		w.merger.logger.Error("failed to merge API documentation", zap.Error(err))
	}
	if w.onMerge != nil {
		w.onMerge(res, err)
	}
}

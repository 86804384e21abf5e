// Package watch drives continuous incremental rebuilds: it watches the
// manifest and step sources and invokes a callback after each settled
// batch of file changes.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vk/datakiln/internal/ctxlog"
)

// DefaultDebounce is how long the watcher waits after the last event
// before firing; editors and git operations emit bursts of writes.
const DefaultDebounce = 500 * time.Millisecond

// Watcher observes a set of directory trees and coalesces change events
// into callback invocations.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	fire    chan []string
}

// New creates a watcher over the given root directories, watching each
// tree recursively.
func New(roots []string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{
		watcher:  fsw,
		debounce: debounce,
		pending:  make(map[string]struct{}),
		fire:     make(chan []string, 1),
	}
	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// addTree registers root and every directory under it. fsnotify only
// watches directories, so new subdirectories are added as they appear.
func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.watcher.Add(path)
		}
		if path == root {
			// The root itself may be a single file (e.g. a one-file
			// manifest).
			return w.watcher.Add(path)
		}
		return nil
	})
}

// Run blocks, invoking onChange with the settled batch of changed paths
// until ctx is cancelled. Watch errors are logged and do not stop the
// loop: a dropped event at worst delays a rebuild to the next change.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context, paths []string)) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Watching for changes.", "debounce", w.debounce.String())

	for {
		select {
		case <-ctx.Done():
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// New directories join the watch so nested creations keep
			// arriving.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						logger.Warn("Failed to watch new directory.", "path", event.Name, "error", err)
					}
				}
			}
			w.record(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watch error.", "error", err)

		case paths := <-w.fire:
			logger.Debug("Change batch settled.", "paths", len(paths))
			onChange(ctx, paths)
		}
	}
}

// record adds a path to the pending batch and (re)arms the debounce
// timer.
func (w *Watcher) record(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		paths := make([]string, 0, len(w.pending))
		for p := range w.pending {
			paths = append(paths, p)
		}
		w.pending = make(map[string]struct{})
		w.mu.Unlock()

		if len(paths) > 0 {
			select {
			case w.fire <- paths:
			default:
				// A batch is already queued; merge on the next event.
				w.mu.Lock()
				for _, p := range paths {
					w.pending[p] = struct{}{}
				}
				w.mu.Unlock()
			}
		}
	})
}

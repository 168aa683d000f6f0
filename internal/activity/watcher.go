package activity

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// excludedDirs are never watched; changes there are not user edits.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
	"bin":          true,
	"obj":          true,
}

// ChangeCallback is called for every qualifying file-system event.
type ChangeCallback func(path string)

// Watcher reports edits under one or more workspace roots.
type Watcher struct {
	mu       sync.Mutex
	roots    map[string]*rootWatcher // root → watcher
	callback ChangeCallback
	logger   *slog.Logger
}

type rootWatcher struct {
	root      string
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
	done      chan struct{}
}

// NewWatcher creates a Watcher. callback runs on the watcher's goroutine.
func NewWatcher(callback ChangeCallback, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		roots:    make(map[string]*rootWatcher),
		callback: callback,
		logger:   logger.With("component", "watcher"),
	}
}

// Watch starts watching root and its subdirectories.
func (w *Watcher) Watch(root string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("watch directory does not exist: %s", root)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", root)
	}

	w.mu.Lock()
	if _, ok := w.roots[root]; ok {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := addDirsRecursive(fsW, root); err != nil {
		fsW.Close()
		return fmt.Errorf("watch %s: %w", root, err)
	}

	rw := &rootWatcher{
		root:      root,
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	w.mu.Lock()
	w.roots[root] = rw
	w.mu.Unlock()

	go w.watchLoop(rw)
	w.logger.Info("watching workspace", "root", root)
	return nil
}

// Unwatch stops watching root.
func (w *Watcher) Unwatch(root string) {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	w.mu.Lock()
	rw, ok := w.roots[root]
	if ok {
		delete(w.roots, root)
	}
	w.mu.Unlock()

	if ok {
		close(rw.cancel)
		rw.fsWatcher.Close()
		<-rw.done
	}
}

// Shutdown stops all roots.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	roots := make([]string, 0, len(w.roots))
	for root := range w.roots {
		roots = append(roots, root)
	}
	w.mu.Unlock()

	for _, root := range roots {
		w.Unwatch(root)
	}
}

func (w *Watcher) watchLoop(rw *rootWatcher) {
	defer close(rw.done)

	for {
		select {
		case <-rw.cancel:
			return

		case event, ok := <-rw.fsWatcher.Events:
			if !ok {
				return
			}
			if !qualifies(event) {
				continue
			}

			// If a new directory is created, watch it too.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !skipDir(filepath.Base(event.Name)) {
						rw.fsWatcher.Add(event.Name)
					}
				}
			}

			if w.callback != nil {
				w.callback(event.Name)
			}

		case err, ok := <-rw.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "root", rw.root, "error", err)
		}
	}
}

// qualifies filters out attribute-only changes and editor scratch files.
func qualifies(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	return !isHidden(filepath.Base(event.Name))
}

// addDirsRecursive adds a directory and its subdirectories to an fsnotify watcher.
func addDirsRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func skipDir(name string) bool {
	return excludedDirs[name] || isHidden(name)
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}

package server

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceDelay coalesces the burst of events an editor save produces.
const debounceDelay = 100 * time.Millisecond

// Watcher watches for tour changes and triggers reload. onReload receives
// the changed file relative to the root, or "" when a burst touched several.
type Watcher struct {
	watcher  *fsnotify.Watcher
	rootDir  string
	onReload func(filePath string) error
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	logger   *zap.Logger
}

// NewWatcher creates a new file watcher for the given directory.
func NewWatcher(rootDir string, onReload func(string) error, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fsWatcher,
		rootDir:  rootDir,
		onReload: onReload,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		logger:   logger,
	}

	if err := w.addDirectoryRecursive(rootDir); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return w, nil
}

// addDirectoryRecursive adds a directory and all its subdirectories to the watcher.
func (w *Watcher) addDirectoryRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Skip hidden dirs like .git
		if info.IsDir() {
			if path != dir && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}

			if err := w.watcher.Add(path); err != nil {
				return err
			}
			w.logger.Debug("watching directory", zap.String("dir", path))
		}

		return nil
	})
}

// relevant reports whether an event should trigger a reload.
func relevant(event fsnotify.Event) bool {
	if filepath.Ext(event.Name) != ".md" && filepath.Base(event.Name) != "tour.yaml" {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
}

// Start begins watching for file changes.
func (w *Watcher) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(w.stopped)

		var (
			timer   *time.Timer
			timerC  <-chan time.Time
			pending string
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}

				// New directories need their own watch.
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						if err := w.addDirectoryRecursive(event.Name); err != nil {
							w.logger.Warn("failed to watch new directory", zap.String("dir", event.Name), zap.Error(err))
						}
						continue
					}
				}

				if !relevant(event) {
					continue
				}

				relPath, err := filepath.Rel(w.rootDir, event.Name)
				if err != nil {
					relPath = event.Name
				}
				if timerC != nil && pending != relPath {
					// Several files changed in one burst.
					pending = ""
				} else if timerC == nil {
					pending = relPath
				}
				if timer == nil {
					timer = time.NewTimer(debounceDelay)
				} else {
					timer.Reset(debounceDelay)
				}
				timerC = timer.C

			case <-timerC:
				timerC = nil
				w.logger.Info("file changed", zap.String("file", pending))
				if err := w.onReload(pending); err != nil {
					w.logger.Error("reload failed", zap.String("file", pending), zap.Error(err))
				}

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watch error", zap.Error(err))

			case <-w.done:
				return
			}
		}
	}()
}

// Stop stops the watcher and waits for the event loop to exit. Safe to call
// more than once, and before Start.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		if w.started.Load() {
			<-w.stopped
		}
	})
	return err
}

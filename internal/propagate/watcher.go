package propagate

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors a project sandbox for out-of-band file changes
// (uploads, manual edits) and feeds them, debounced, into the same
// rebuild path chat mutations take.
type Watcher struct {
	fsWatcher  *fsnotify.Watcher
	userID     string
	root       string
	debounce   time.Duration
	propagator *Propagator
	logger     *slog.Logger

	mu       sync.Mutex
	pending  map[string]time.Time
	done     chan struct{}
	stopOnce sync.Once
}

// Dirs whose churn is build output or tooling noise, never user edits.
var watchSkipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
	".astro":       true,
}

// NewWatcher creates a watcher over one user's project root.
func NewWatcher(userID, root string, debounce time.Duration, p *Propagator, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsWatcher:  fsWatcher,
		userID:     userID,
		root:       root,
		debounce:   debounce,
		propagator: p,
		logger:     logger.With("component", "watcher", "user", userID),
		pending:    make(map[string]time.Time),
		done:       make(chan struct{}),
	}, nil
}

// Start begins watching. Directories are watched recursively; new
// directories join the watch list as they appear.
func (w *Watcher) Start() error {
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible paths
		}
		if !d.IsDir() {
			return nil
		}
		if watchSkipDirs[d.Name()] {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(path); err != nil {
			w.logger.Debug("watch add failed", "path", path, "error", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	go w.processEvents()
	go w.processDebounce()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.done) })
	return w.fsWatcher.Close()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name

	base := filepath.Base(path)
	if base == "" || base[0] == '.' || base[0] == '#' || base[len(base)-1] == '~' {
		return
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if watchSkipDirs[part] {
			return
		}
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if !watchSkipDirs[base] {
				_ = w.fsWatcher.Add(path)
			}
			return
		}
	}

	w.mu.Lock()
	w.pending[filepath.ToSlash(rel)] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) processDebounce() {
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.flush()
		}
	}
}

// flush fires propagation for paths whose last event is older than the
// debounce window.
func (w *Watcher) flush() {
	now := time.Now()

	w.mu.Lock()
	var ready []string
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	if len(ready) == 0 {
		return
	}
	w.logger.Debug("out-of-band changes", "files", len(ready))
	w.propagator.OnChanges(context.Background(), w.userID, ready)
}

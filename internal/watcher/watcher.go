// Package watcher ingests plain-text files from watched directories into a
// configured tenant. Write bursts are debounced so a file is ingested once
// per save.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches directories with fsnotify and calls onFile for each
// created or written file matching the configured extensions.
type Watcher struct {
	roots      []string
	extensions []string
	recursive  bool
	onFile     func(path string)
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	timers   map[string]*time.Timer
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Watcher over roots. extensions filter which files are
// reported (empty = all); onFile is called after the debounce interval.
func New(roots, extensions []string, recursive bool, onFile func(path string), logger *zap.Logger) *Watcher {
	return &Watcher{
		roots:      roots,
		extensions: extensions,
		recursive:  recursive,
		onFile:     onFile,
		debounce:   defaultDebounce,
		logger:     logger,
		timers:     make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
}

// Start begins watching. Missing roots are created. The watcher runs until
// ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = fsw
	w.started = true
	for _, root := range w.roots {
		if err := w.addRootLocked(root); err != nil {
			_ = fsw.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()

	w.logger.Info("watcher started",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	switch ev.Op {
	case fsnotify.Create, fsnotify.Write:
		info, err := os.Stat(ev.Name)
		if err == nil && info.IsDir() {
			w.watchNewDirectory(ev.Name)
			return
		}
		if w.matchExtension(ev.Name) {
			w.debounceFile(ev.Name)
		}
	case fsnotify.Remove:
		w.cancelPending(ev.Name)
	}
}

// watchNewDirectory adds a directory created under a watched root and
// reports any files already inside it.
func (w *Watcher) watchNewDirectory(dir string) {
	w.mu.Lock()
	fsw := w.watcher
	recursive := w.recursive
	w.mu.Unlock()
	if fsw == nil || !recursive {
		return
	}

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				w.logger.Debug("watch directory", zap.String("path", path), zap.Error(err))
			}
			return nil
		}
		if w.matchExtension(path) {
			w.debounceFile(path)
		}
		return nil
	})
}

func (w *Watcher) matchExtension(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range w.extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (w *Watcher) debounceFile(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		if w.onFile != nil {
			w.onFile(path)
		}
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		if err := os.MkdirAll(root, 0755); err != nil {
			return err
		}
	}
	if !w.recursive {
		return w.watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

// SyncExisting reports every matching file already present under the watched
// roots. Call after Start to pick up files that predate the watcher.
func (w *Watcher) SyncExisting() {
	w.mu.Lock()
	roots := append([]string(nil), w.roots...)
	w.mu.Unlock()
	for _, root := range roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if w.matchExtension(path) && w.onFile != nil {
				w.onFile(path)
			}
			return nil
		})
	}
}

// Stop stops watching and cancels pending debounce timers.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}

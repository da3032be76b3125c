// ABOUTME: Hot reload of the config file with fsnotify
// ABOUTME: Re-parses on write and hands valid configs to a callback
package config

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a config file and reloads it on change
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	onChange func(*Config)
	logger   *slog.Logger
	done     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewWatcher creates a watcher for path. onChange receives every config that
// parses and validates; invalid edits are logged and ignored.
func NewWatcher(path string, onChange func(*Config), logger *slog.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		watcher:  watcher,
		path:     path,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Start begins watching the file for changes
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	// Editors replace files on save; the directory watch survives that
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.running = true

	go w.watch()
	return nil
}

func (w *Watcher) watch() {
	defer close(w.stopped)
	filename := filepath.Base(w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	config, err := Load(w.path)
	if err != nil {
		w.logger.Warn("ignoring config change", "file", w.path, "error", err)
		return
	}
	w.logger.Info("config reloaded", "file", w.path)
	w.onChange(config)
}

// Stop stops the watcher and waits for the watch loop to exit
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return w.watcher.Close()
	}
	w.running = false
	close(w.done)
	err := w.watcher.Close()
	<-w.stopped
	return err
}

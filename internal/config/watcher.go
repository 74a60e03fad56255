package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads the configuration file in development. Reloads are
// debounced because editors fire several filesystem events per save.
type Watcher struct {
	path      string
	logger    *zap.Logger
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	stopOnce  sync.Once
	callbacks []func(*Config)

	mu      sync.RWMutex
	current *Config
}

// NewWatcher creates a watcher for the given config file. Outside development
// the watcher is inert: Current still serves the initial config but no file
// watching happens.
func NewWatcher(path string, initial *Config, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		path:    path,
		logger:  logger,
		stopCh:  make(chan struct{}),
		current: initial,
	}

	if initial.Environment != Development || path == "" {
		return w, nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(path); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	w.watcher = fsWatcher

	go w.watchLoop()
	logger.Info("configuration hot reload enabled", zap.String("path", path))
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnReload registers a callback invoked after each successful reload.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Stop shuts down the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

func (w *Watcher) watchLoop() {
	defer w.watcher.Close()

	const debounceDelay = 500 * time.Millisecond
	var debounce *time.Timer

	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// reload re-reads the file; a config that fails validation is discarded and
// the previous one stays active.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous config", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = cfg
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("configuration reloaded", zap.String("path", w.path))
	for _, fn := range callbacks {
		fn(cfg)
	}
}

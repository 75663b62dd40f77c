package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/snapcal/edgecache/internal/logging"
)

// Watcher reloads the configuration file when it changes on disk and hands
// every valid reload to a single callback. A reload carrying a new
// worker.version is how a deployment rolls a fresh cache generation.
type Watcher struct {
	fs         *fsnotify.Watcher
	loader     *Loader
	configPath string
	onChange   func(*Config)
	debounce   time.Duration

	mu      sync.RWMutex
	current *Config
}

// NewWatcher loads the config at path and prepares to watch it. onChange is
// invoked for every subsequent valid reload; an invalid reload is logged and
// the last good config stays in place.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	loader := NewLoader()
	cfg, err := loader.Load(path)
	if err != nil {
		fs.Close()
		return nil, err
	}

	return &Watcher{
		fs:         fs,
		loader:     loader,
		configPath: path,
		onChange:   onChange,
		debounce:   500 * time.Millisecond,
		current:    cfg,
	}, nil
}

// Start begins watching. The directory is watched rather than the file,
// because editors and deploy tools replace the file instead of writing it in
// place.
func (w *Watcher) Start() error {
	if err := w.fs.Add(filepath.Dir(w.configPath)); err != nil {
		return err
	}
	go w.watch()
	return nil
}

func (w *Watcher) watch() {
	var pending *time.Timer

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			// Collapse the burst of events a file replace produces.
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.Error("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load(w.configPath)
	if err != nil {
		logging.Error("failed to reload config, keeping current", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	logging.Info("configuration reloaded", zap.String("path", w.configPath))

	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Current returns the last successfully loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stop stops watching.
func (w *Watcher) Stop() error {
	return w.fs.Close()
}

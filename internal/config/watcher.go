package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arvid/mnemo/internal/observability"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadCallback is invoked with the freshly loaded config after a change
type ReloadCallback func(cfg *Config)

// Watcher reloads the configuration file when it changes on disk. Editors
// tend to write in bursts, so events are debounced before reloading.
type Watcher struct {
	watcher  *fsnotify.Watcher
	loader   *Loader
	onReload ReloadCallback
	logger   zerolog.Logger
	debounce time.Duration
	timer    *time.Timer
	timerMu  sync.Mutex
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for the loader's config file
func NewWatcher(loader *Loader, onReload ReloadCallback, log zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		watcher:  fsw,
		loader:   loader,
		onReload: onReload,
		logger:   log,
		debounce: 250 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching the config file
func (w *Watcher) Start() error {
	path := w.loader.GetConfigPath()
	if path == "" {
		return fmt.Errorf("could not determine config path")
	}

	if err := w.watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	go w.eventLoop()

	w.logger.Info().Str("path", path).Msg("Config watcher started")
	return nil
}

// Stop halts the watcher
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}
		w.reload()
	})
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Error().Err(err).Msg("Config reload failed, keeping previous config")
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Error().Err(err).Msg("Reloaded config is invalid, keeping previous config")
		return
	}

	w.logger.Info().Msg("Config reloaded")
	observability.RecordConfigAudit(context.Background(), "reload", map[string]interface{}{
		"path": w.loader.GetConfigPath(),
	})
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

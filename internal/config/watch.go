package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a config file when it changes on disk. Editors that save
// through rename are handled by watching the parent directory.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(*Config)
	logger   *zap.Logger
	getenv   func(string) string
}

// NewWatcher creates a Watcher for path. onChange only ever sees configs that
// passed validation; a broken edit is logged and the running config is kept.
func NewWatcher(path string, logger *zap.Logger, onChange func(*Config)) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return &Watcher{
		path:     abs,
		debounce: 250 * time.Millisecond,
		onChange: onChange,
		logger:   logger,
		getenv:   osGetenv,
	}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	w.logger.Info("watching config", zap.String("path", w.path))

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// rapid saves collapse into one reload
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))

		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := load(w.path, w.getenv)
	if err != nil {
		w.logger.Error("config reload rejected, keeping current config", zap.Error(err))
		return
	}
	w.logger.Info("config reloaded", zap.Int("routes", len(cfg.Routes)), zap.String("log_level", cfg.Logging.Level))
	w.onChange(cfg)
}

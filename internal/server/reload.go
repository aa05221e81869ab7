package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/holdfast-sec/holdfast/internal/config"
	"github.com/holdfast-sec/holdfast/internal/gate"
)

// reloadDebounce is how long the reloader waits after the last write before
// applying the file, so editors that write in several syscalls reload once.
const reloadDebounce = 500 * time.Millisecond

// Reloader watches the config file and hot-swaps the engine's reloadable
// settings (rate rules, alert targets, cache policy) on change.
type Reloader struct {
	watcher *fsnotify.Watcher
	engine  *gate.Engine
	path    string
	logger  *slog.Logger
}

// NewReloader creates a file watcher for the config path. A missing file is
// not an error; the watcher simply has nothing to report until it appears
// under an already-watched name.
func NewReloader(engine *gate.Engine, path string, logger *slog.Logger) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("server: create file watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(path); err == nil {
		if err := watcher.Add(path); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("server: watch %q: %w", path, err)
		}
	}

	return &Reloader{
		watcher: watcher,
		engine:  engine,
		path:    path,
		logger:  logger,
	}, nil
}

// Run watches for file changes and reloads config. Blocks until ctx is
// cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, r.reload)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("file watcher error", "error", err)
		}
	}
}

// reload parses and validates the file before anything is swapped; a broken
// config leaves the running engine untouched.
func (r *Reloader) reload() {
	cfg, hash, err := config.LoadConfigWithHash(r.path)
	if err != nil {
		r.logger.Error("hot-reload failed", "path", r.path, "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		r.logger.Error("hot-reload rejected", "path", r.path, "error", err)
		return
	}
	if err := r.engine.Reload(cfg, hash); err != nil {
		r.logger.Error("hot-reload failed", "path", r.path, "error", err)
		return
	}
	r.logger.Info("config reloaded", "config_hash", hash)
}

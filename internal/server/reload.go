package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is how long the reloader waits after the last write.
const reloadDebounce = 500 * time.Millisecond

// Reloadable is anything that can re-read its configuration.
type Reloadable interface {
	ReloadConfig() error
}

// Reloader watches config files and triggers hot-reload on change.
type Reloader struct {
	watcher *fsnotify.Watcher
	target  Reloadable
	logger  *slog.Logger
	paths   []string
	// OnReload, when set, observes every reload attempt.
	OnReload func(error)
}

// NewReloader creates a file watcher for the given paths. Empty or
// missing paths are skipped.
func NewReloader(target Reloadable, logger *slog.Logger, paths ...string) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("server: create file watcher: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	var watched []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("server: watch %q: %w", p, err)
		}
		watched = append(watched, p)
	}

	return &Reloader{
		watcher: watcher,
		target:  target,
		logger:  logger,
		paths:   watched,
	}, nil
}

// Paths returns the files actually being watched.
func (r *Reloader) Paths() []string {
	return r.paths
}

// Run watches for file changes and reloads. Blocks until ctx is cancelled.
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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, r.reload)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (r *Reloader) reload() {
	err := r.target.ReloadConfig()
	if err != nil {
		r.logger.Error("hot-reload failed, keeping previous config", "error", err)
	}
	if r.OnReload != nil {
		r.OnReload(err)
	}
}

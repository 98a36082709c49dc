package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is how long the watcher waits for writes to settle
const DefaultDebounce = 200 * time.Millisecond

// ReloadFunc is called after every reload attempt. cfg is nil when err is set.
type ReloadFunc func(cfg *Config, err error)

// Watcher reloads a configuration file when it changes on disk. A document
// that fails to load is logged and the previous configuration stays published.
type Watcher struct {
	loader   *Loader
	path     string
	debounce time.Duration
	onReload ReloadFunc
	log      *logrus.Logger
}

// NewWatcher creates a watcher for path that publishes through loader
func NewWatcher(loader *Loader, path string, onReload ReloadFunc) (*Watcher, error) {
	if path == "" || path == EmbeddedSource {
		return nil, fmt.Errorf("config watcher needs a file path, got %q", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return &Watcher{
		loader:   loader,
		path:     abs,
		debounce: DefaultDebounce,
		onReload: onReload,
		log:      loader.log,
	}, nil
}

// SetDebounce changes the settle interval; zero reloads on every event
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run watches until ctx is cancelled. The parent directory is watched so that
// editors replacing the file through a rename are picked up.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.log.WithField("path", w.path).Info("Watching configuration for changes")

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.log.WithField("op", event.Op.String()).Debug("Configuration file changed")
			if w.debounce <= 0 {
				w.reload(ctx)
				continue
			}
			timer.Reset(w.debounce)
		case <-timer.C:
			w.reload(ctx)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("Configuration watcher error")
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := w.loader.Load(ctx, w.path)
	if err != nil {
		w.log.WithError(err).WithField("path", w.path).Error("Failed to reload configuration, keeping previous")
	}
	if w.onReload != nil {
		w.onReload(cfg, err)
	}
}

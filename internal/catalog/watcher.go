package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events editors emit on save.
const DefaultDebounce = 250 * time.Millisecond

// Logger defines the logging interface used by the Watcher.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Watcher reloads the catalog whenever its seed file changes.
//
// The parent directory is watched rather than the file, so editors that
// replace the file by rename are seen too. A seed that fails to parse is
// logged and the previous catalog stays in place.
type Watcher struct {
	path     string
	loader   Loader
	logger   Logger
	debounce time.Duration
	onReload func(playlists int)
}

// NewWatcher creates a Watcher for the seed file at path.
func NewWatcher(path string, loader Loader) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		loader:   loader,
		logger:   noopLogger{},
		debounce: DefaultDebounce,
	}
}

// SetLogger sets the logger.
func (w *Watcher) SetLogger(l Logger) {
	w.logger = l
}

// SetDebounce overrides DefaultDebounce.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// OnReload registers a callback run after every successful reload.
func (w *Watcher) OnReload(fn func(playlists int)) {
	w.onReload = fn
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating catalog watcher: %w", err)
	}
	defer fw.Close() //nolint:errcheck // shutdown path

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) == w.path && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("catalog watcher error", "error", err)
		case <-timer.C:
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	n, err := Apply(ctx, w.loader, w.path)
	if err != nil {
		w.logger.Warn("catalog reload failed", "path", w.path, "error", err)
		return
	}
	w.logger.Info("catalog reloaded", "path", w.path, "playlists", n)
	if w.onReload != nil {
		w.onReload(n)
	}
}

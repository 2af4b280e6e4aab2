package confloader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes to config files. Bursts of events for a file
// are coalesced into one callback after the debounce interval.
type Watcher struct {
	fw       *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	mu        sync.Mutex
	files     map[string]bool
	callbacks []func(path string)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithDebounce sets how long a file must be quiet before callbacks run.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher creates a Watcher. Run must be called for callbacks to fire.
func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("confloader: %w", err)
	}
	w := &Watcher{
		fw:       fw,
		logger:   slog.Default(),
		debounce: 200 * time.Millisecond,
		files:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Add watches path. The parent directory is watched so editors that
// replace the file by rename are noticed.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.fw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("confloader: watch %s: %w", filepath.Dir(abs), err)
	}
	w.mu.Lock()
	w.files[abs] = true
	w.mu.Unlock()
	return nil
}

// OnChange registers fn. It runs on the Run goroutine.
func (w *Watcher) OnChange(fn func(path string)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Run delivers changes until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()

	pending := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			path, ok := w.watched(ev.Name)
			if !ok {
				continue
			}
			pending[path] = true
			timer.Reset(w.debounce)

		case <-timer.C:
			for path := range pending {
				w.logger.Info("config file changed", "path", path)
				w.notify(path)
			}
			clear(pending)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) watched(name string) (string, bool) {
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return abs, w.files[abs]
}

func (w *Watcher) notify(path string) {
	w.mu.Lock()
	callbacks := append([]func(string){}, w.callbacks...)
	w.mu.Unlock()
	for _, fn := range callbacks {
		fn(path)
	}
}

// Close releases the watcher without running it.
func (w *Watcher) Close() error {
	return w.fw.Close()
}

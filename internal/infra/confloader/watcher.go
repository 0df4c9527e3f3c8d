package confloader

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches files and directories for changes.
type Watcher struct {
	watcher   *fsnotify.Watcher
	onChange  []func(string)
	onRemove  []func(string)
	mu        sync.RWMutex
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher creates a new watcher.
func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	watcher := &Watcher{
		watcher: w,
		done:    make(chan struct{}),
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(watcher)
	}

	return watcher, nil
}

// Watch watches a single file. The parent directory is watched so that
// editors replacing the file by rename are still seen.
func (w *Watcher) Watch(path string) error {
	dir := filepath.Dir(path)
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Error("failed to watch directory",
			"path", dir,
			"error", err,
		)
		return err
	}
	w.logger.Debug("watching directory for changes",
		"path", dir,
		"file", filepath.Base(path),
	)
	return nil
}

// WatchDir watches every entry of a directory.
func (w *Watcher) WatchDir(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Error("failed to watch directory",
			"path", dir,
			"error", err,
		)
		return err
	}
	w.logger.Debug("watching directory", "path", dir)
	return nil
}

// OnChange registers a callback for files that are written or created.
// The callback receives the path of the changed file.
func (w *Watcher) OnChange(callback func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, callback)
}

// OnRemove registers a callback for files that are removed or renamed away.
func (w *Watcher) OnRemove(callback func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onRemove = append(w.onRemove, callback)
}

// Start runs the event loop. It blocks until Stop is called.
func (w *Watcher) Start() {
	w.logger.Debug("watcher started")

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			switch {
			case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
				w.logger.Debug("watched file changed",
					"file", event.Name,
					"op", event.Op.String(),
				)
				w.notify(w.changeCallbacks(), event.Name)
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				w.logger.Debug("watched file removed",
					"file", event.Name,
					"op", event.Op.String(),
				)
				w.notify(w.removeCallbacks(), event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// StartAsync starts watching in a goroutine.
func (w *Watcher) StartAsync() {
	go w.Start()
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		if err = w.watcher.Close(); err != nil {
			w.logger.Error("failed to close watcher", "error", err)
			return
		}
		w.logger.Debug("watcher stopped")
	})
	return err
}

func (w *Watcher) changeCallbacks() []func(string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append(([]func(string))(nil), w.onChange...)
}

func (w *Watcher) removeCallbacks() []func(string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append(([]func(string))(nil), w.onRemove...)
}

func (w *Watcher) notify(callbacks []func(string), path string) {
	for _, cb := range callbacks {
		cb(path)
	}
}

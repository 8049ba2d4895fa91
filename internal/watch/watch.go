package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/syncview/syncview-agent/internal/logging"
)

// EventType classifies what happened to a watched file.
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventRemove
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Watcher reports changes to individual files the workspace cares
// about. Callbacks run on the watcher goroutine.
type Watcher interface {
	OnChange(callback func(path string, event EventType))
	WatchFile(path string) error
	UnwatchFile(path string)
	Start(ctx context.Context)
	Stop() error
}

// FileWatcher tracks slot files through fsnotify. Parent directories
// are watched, not the files themselves, so deletes and renames are
// seen reliably; events for untracked siblings are dropped.
type FileWatcher struct {
	logger *slog.Logger
	fs     *fsnotify.Watcher

	mu       sync.Mutex
	files    map[string]struct{}
	dirRefs  map[string]int
	callback func(path string, event EventType)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFileWatcher creates a file watcher. Callers that cannot afford a
// watcher failure can fall back to NewNopWatcher.
func NewFileWatcher(logger *slog.Logger) (*FileWatcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &FileWatcher{
		logger:  logging.WithComponent(logger, "watcher"),
		fs:      fs,
		files:   make(map[string]struct{}),
		dirRefs: make(map[string]int),
	}, nil
}

// OnChange sets the change callback. Set it before Start.
func (w *FileWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callback = callback
}

// WatchFile starts tracking one file.
func (w *FileWatcher) WatchFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[abs]; ok {
		return nil
	}

	dir := filepath.Dir(abs)
	if w.dirRefs[dir] == 0 {
		if err := w.fs.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	w.dirRefs[dir]++
	w.files[abs] = struct{}{}
	w.logger.Debug("watching file", "path", abs)
	return nil
}

// UnwatchFile stops tracking one file, releasing the directory watch
// once no tracked file needs it.
func (w *FileWatcher) UnwatchFile(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[abs]; !ok {
		return
	}
	delete(w.files, abs)

	dir := filepath.Dir(abs)
	w.dirRefs[dir]--
	if w.dirRefs[dir] <= 0 {
		delete(w.dirRefs, dir)
		if err := w.fs.Remove(dir); err != nil {
			w.logger.Debug("failed to remove directory watch", "path", dir, "error", err)
		}
	}
}

// Start runs the event loop until Stop or ctx cancellation.
func (w *FileWatcher) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(loopCtx)
	w.logger.Info("file watcher started")
}

// Stop shuts the watcher down and waits for the event loop to exit.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	err := w.fs.Close()
	w.wg.Wait()
	w.logger.Info("file watcher stopped")
	return err
}

func (w *FileWatcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func (w *FileWatcher) handleEvent(event fsnotify.Event) {
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	_, tracked := w.files[abs]
	callback := w.callback
	w.mu.Unlock()
	if !tracked || callback == nil {
		return
	}

	var eventType EventType
	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		eventType = EventRemove
	case event.Op&fsnotify.Create != 0:
		eventType = EventCreate
	case event.Op&fsnotify.Write != 0:
		eventType = EventModify
	default:
		return
	}

	w.logger.Debug("file event", "path", abs, "event", eventType.String())
	callback(abs, eventType)
}

// NopWatcher satisfies Watcher without doing anything. It stands in
// when the platform watcher cannot be created; slot presence then only
// refreshes on startup and on load.
type NopWatcher struct{}

func NewNopWatcher() *NopWatcher { return &NopWatcher{} }

func (*NopWatcher) OnChange(func(path string, event EventType)) {}
func (*NopWatcher) WatchFile(string) error                      { return nil }
func (*NopWatcher) UnwatchFile(string)                          {}
func (*NopWatcher) Start(context.Context)                       {}
func (*NopWatcher) Stop() error                                 { return nil }

package knowledge

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/storytest/errors"
	"github.com/teranos/storytest/logger"
)

// DefaultDebounce coalesces editor save bursts into one callback
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc receives the documents touched since the previous call, sorted
type ChangeFunc func(paths []string)

// Watcher reports changes to knowledge documents in one directory
type Watcher struct {
	dir      string
	debounce time.Duration
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
}

// NewWatcher creates a watcher for dir; debounce <= 0 uses DefaultDebounce
func NewWatcher(dir string, debounce time.Duration, log *zap.SugaredLogger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		logger:   logger.OrNop(log),
		pending:  map[string]struct{}{},
	}
}

// Run watches until ctx is done. onChange is called from a timer goroutine,
// never concurrently with itself.
func (w *Watcher) Run(ctx context.Context, onChange ChangeFunc) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create fsnotify watcher")
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return errors.Wrapf(err, "failed to watch %s", w.dir)
	}
	w.logger.Infow("Watching knowledge base", logger.FieldPath, w.dir)

	var callMu sync.Mutex
	fire := func() {
		paths := w.drain()
		if len(paths) == 0 {
			return
		}
		callMu.Lock()
		defer callMu.Unlock()
		onChange(paths)
	}
	defer w.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !IsDocument(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debugw("Knowledge document changed",
				logger.FieldFile, event.Name,
				logger.FieldOperation, event.Op.String())
			w.schedule(event.Name, fire)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnw("Knowledge watcher error", logger.FieldError, err)
		}
	}
}

func (w *Watcher) schedule(path string, fire func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, fire)
}

func (w *Watcher) drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = map[string]struct{}{}
	sort.Strings(paths)
	return paths
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

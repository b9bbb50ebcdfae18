// Package watch triggers analysis runs for dataset files dropped into an
// inbox directory. Events are debounced per file so a file still being
// copied in is picked up once, after its writes settle.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/config"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/session"
)

// ErrWatcherFailed indicates the filesystem watcher could not be set up.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

const defaultDebounce = 2 * time.Second

// Runner starts one analysis run for a source file. Implemented by the
// coordinator.
type Runner interface {
	Run(ctx context.Context, source string) (*session.Session, error)
}

// Watcher watches the inbox directory and hands settled dataset files to
// the runner.
type Watcher struct {
	cfg    config.WatcherConfig
	runner Runner
	logger *logging.Logger

	fs *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

// New creates a watcher over cfg.Dir, creating the directory if needed.
func New(cfg config.WatcherConfig, runner Runner, logger *logging.Logger) (*Watcher, error) {
	if runner == nil {
		return nil, errors.New("nil runner")
	}
	if cfg.Dir == "" {
		return nil, errors.New("watch directory is empty")
	}
	if cfg.Debounce.Duration() <= 0 {
		cfg.Debounce = config.Duration(defaultDebounce)
	}
	if logger == nil {
		logger = logging.FromContext(context.Background())
	}

	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create inbox dir %s: %w", cfg.Dir, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if err := fsw.Add(cfg.Dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("%w: watch %s: %v", ErrWatcherFailed, cfg.Dir, err)
	}

	return &Watcher{
		cfg:     cfg,
		runner:  runner,
		logger:  logger.Named("watch"),
		fs:      fsw,
		pending: make(map[string]*time.Timer),
	}, nil
}

// Start begins processing inbox events in a background goroutine. Call
// Stop to shut down.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.processEvents(ctx)
	w.logger.Info(ctx, "inbox watcher started",
		zap.String("dir", w.cfg.Dir),
		zap.Duration("debounce", w.cfg.Debounce.Duration()))
}

// Stop cancels pending debounce timers, closes the watcher, and waits for
// in-flight runs to finish. Stopping twice is safe.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.fs.Close()
	w.wg.Wait()
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !eligible(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "inbox watch error", zap.Error(err))
		}
	}
}

// schedule arms or resets the debounce timer for a path. The run fires
// once the file has been quiet for the debounce window.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Reset(w.cfg.Debounce.Duration())
		return
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce.Duration(), func() {
		w.fire(ctx, path)
	})
}

func (w *Watcher) fire(ctx context.Context, path string) {
	w.mu.Lock()
	delete(w.pending, path)
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	w.logger.Info(ctx, "inbox file settled, starting run", zap.String("source", path))
	sess, err := w.runner.Run(ctx, path)
	if err != nil {
		w.logger.Error(ctx, "inbox run failed",
			zap.String("source", path),
			zap.Error(err))
		return
	}
	w.logger.Info(ctx, "inbox run finished",
		zap.String("source", path),
		zap.String("session_id", sess.ID),
		zap.String("state", string(sess.State)))
}

// eligible reports whether a path is a dataset file worth analyzing.
// Hidden files and anything without a data extension are skipped, which
// keeps editor temp files and partial copies out.
func eligible(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".csv", ".json":
		return true
	}
	return false
}

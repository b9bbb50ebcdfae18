package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/trace"
)

// followBuffer is the channel depth for tailed events.
const followBuffer = 64

// Follow tails a newline-delimited trace log, replaying the events
// already in it and then streaming appended ones until ctx is
// cancelled. The file may not exist yet; it is picked up on creation.
// The returned channel closes when following stops, so it plugs
// straight into NewModel.
func Follow(ctx context.Context, path string, logger *logging.Logger) (<-chan trace.Event, error) {
	if path == "" {
		return nil, errors.New("trace log path is empty")
	}
	// fsnotify reports cleaned joined paths; match against the same form.
	path = filepath.Clean(path)
	if logger == nil {
		logger = logging.FromContext(ctx)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch trace log: %w", err)
	}
	// Watch the directory, not the file: the daemon may not have
	// created the log yet, and appends arrive as writes on the path.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch trace dir %s: %w", dir, err)
	}

	f, err := os.Open(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		watcher.Close()
		return nil, fmt.Errorf("open trace log: %w", err)
	}

	t := &tailer{
		path:    path,
		f:       f,
		watcher: watcher,
		logger:  logger.Named("monitor"),
		events:  make(chan trace.Event, followBuffer),
	}
	go t.loop(ctx)
	return t.events, nil
}

type tailer struct {
	path    string
	f       *os.File
	watcher *fsnotify.Watcher
	logger  *logging.Logger
	events  chan trace.Event
	pending []byte
}

func (t *tailer) loop(ctx context.Context) {
	defer func() {
		t.watcher.Close()
		if t.f != nil {
			t.f.Close()
		}
		close(t.events)
	}()

	if !t.drain(ctx) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if event.Name != t.path || event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if t.f == nil {
				f, err := os.Open(t.path)
				if err != nil {
					continue
				}
				t.f = f
			}
			if !t.drain(ctx) {
				return
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.logger.Warn(ctx, "trace log watch error", zap.Error(err))
		}
	}
}

// drain reads everything appended since the last call and emits the
// complete lines. Returns false when ctx ended mid-emit.
func (t *tailer) drain(ctx context.Context) bool {
	if t.f == nil {
		return true
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := t.f.Read(buf)
		if n > 0 {
			t.pending = append(t.pending, buf[:n]...)
			if !t.emitLines(ctx) {
				return false
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Warn(ctx, "trace log read failed", zap.Error(err))
			}
			return true
		}
	}
}

// emitLines sends every complete line buffered so far. A trailing
// partial line stays buffered until its newline arrives.
func (t *tailer) emitLines(ctx context.Context) bool {
	for {
		i := bytes.IndexByte(t.pending, '\n')
		if i < 0 {
			return true
		}
		line := bytes.TrimSpace(t.pending[:i])
		rest := t.pending[i+1:]
		t.pending = append(make([]byte, 0, len(rest)), rest...)

		if len(line) == 0 {
			continue
		}
		var ev trace.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			t.logger.Warn(ctx, "skipping malformed trace line", zap.Error(err))
			continue
		}
		select {
		case t.events <- ev:
		case <-ctx.Done():
			return false
		}
	}
}

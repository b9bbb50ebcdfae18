package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/insightd/internal/config"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/session"
)

// recordingRunner counts runs per source and signals each one.
type recordingRunner struct {
	mu      sync.Mutex
	sources []string
	ran     chan string
	err     error
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{ran: make(chan string, 16)}
}

func (r *recordingRunner) Run(ctx context.Context, source string) (*session.Session, error) {
	r.mu.Lock()
	r.sources = append(r.sources, source)
	r.mu.Unlock()
	r.ran <- source
	if r.err != nil {
		return nil, r.err
	}
	sess := session.New("0198cccc-0000-7000-8000-000000000001", "inbox", source)
	sess.State = session.StateCommitted
	return sess, nil
}

func (r *recordingRunner) runs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sources...)
}

func startWatcher(t *testing.T, runner Runner, dir string) *Watcher {
	t.Helper()
	cfg := config.WatcherConfig{
		Enabled:  true,
		Dir:      dir,
		Debounce: config.Duration(40 * time.Millisecond),
	}
	w, err := New(cfg, runner, logging.NewTestLogger(t).Logger)
	require.NoError(t, err)
	w.Start(context.Background())
	t.Cleanup(w.Stop)
	return w
}

func waitForRun(t *testing.T, runner *recordingRunner) string {
	t.Helper()
	select {
	case source := <-runner.ran:
		return source
	case <-time.After(3 * time.Second):
		t.Fatal("no run triggered")
		return ""
	}
}

func TestWatcherRunsSettledFileOnce(t *testing.T) {
	dir := t.TempDir()
	runner := newRecordingRunner()
	startWatcher(t, runner, dir)

	path := filepath.Join(dir, "sales.csv")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o600)
	require.NoError(t, err)

	// Two writes inside the debounce window settle into one run.
	_, err = f.WriteString("date,revenue\n")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = f.WriteString("2026-01-01,100\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got := waitForRun(t, runner)
	assert.Equal(t, path, got)

	// Give a late duplicate time to show up; there must be none.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{path}, runner.runs())
}

func TestWatcherIgnoresNonDataFiles(t *testing.T) {
	dir := t.TempDir()
	runner := newRecordingRunner()
	startWatcher(t, runner, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sales.csv.tmp"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.csv"), []byte("x"), 0o600))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, runner.runs())
}

func TestWatcherStopCancelsPending(t *testing.T) {
	dir := t.TempDir()
	runner := newRecordingRunner()
	w := startWatcher(t, runner, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "sales.csv"), []byte("x"), 0o600))
	w.Stop()

	time.Sleep(150 * time.Millisecond)
	assert.Empty(t, runner.runs())
}

func TestWatcherSurvivesRunError(t *testing.T) {
	dir := t.TempDir()
	runner := newRecordingRunner()
	runner.err = errors.New("ingest failed")
	startWatcher(t, runner, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.csv"), []byte("x"), 0o600))
	waitForRun(t, runner)

	// The watcher keeps going: a second file still triggers a run.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.csv"), []byte("x"), 0o600))
	waitForRun(t, runner)
	assert.Len(t, runner.runs(), 2)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	logger := logging.NewTestLogger(t).Logger

	_, err := New(config.WatcherConfig{Dir: t.TempDir()}, nil, logger)
	assert.ErrorContains(t, err, "nil runner")

	_, err = New(config.WatcherConfig{}, newRecordingRunner(), logger)
	assert.ErrorContains(t, err, "watch directory")
}

func TestEligible(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want bool
	}{
		{"sales.csv", true},
		{"SALES.CSV", true},
		{"orders.json", true},
		{"inbox/q3.JSON", true},
		{"notes.txt", false},
		{"sales.csv.tmp", false},
		{"sales.part", false},
		{".hidden.csv", false},
		{"no-extension", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, eligible(tt.path), tt.path)
	}
}

package monitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/insightd/internal/coordinator"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/trace"
)

func recvEvent(t *testing.T, events <-chan trace.Event) trace.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event channel closed early")
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for trace event")
	}
	return trace.Event{}
}

func waitClosed(t *testing.T, events <-chan trace.Event) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for event channel to close")
		}
	}
}

func TestFollow_Validation(t *testing.T) {
	_, err := Follow(context.Background(), "", logging.NewTestLogger(t).Logger)
	assert.Error(t, err)
}

func TestFollow_ReplaysExistingEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.ndjson")
	sink, err := trace.NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Emit(context.Background(), evStart("0198dddd-0000-7000-8000-000000000001", coordinator.PhaseIngest)))
	require.NoError(t, sink.Emit(context.Background(), evEnd("0198dddd-0000-7000-8000-000000000001", coordinator.PhaseIngest, 12.5)))
	require.NoError(t, sink.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := Follow(ctx, path, logging.NewTestLogger(t).Logger)
	require.NoError(t, err)

	first := recvEvent(t, events)
	assert.Equal(t, trace.EventPhaseStart, first.Type)
	assert.Equal(t, coordinator.PhaseIngest, first.Phase)

	second := recvEvent(t, events)
	assert.Equal(t, trace.EventPhaseEnd, second.Type)
	assert.Equal(t, 12.5, second.DurationMS)

	cancel()
	waitClosed(t, events)
}

func TestFollow_StreamsAppendedEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.ndjson")
	sink, err := trace.NewFileSink(path)
	require.NoError(t, err)
	defer sink.Close()
	require.NoError(t, sink.Emit(context.Background(), evStart("0198dddd-0000-7000-8000-000000000002", coordinator.PhaseIngest)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := Follow(ctx, path, logging.NewTestLogger(t).Logger)
	require.NoError(t, err)
	recvEvent(t, events)

	// Appends after the replay should stream through
	require.NoError(t, sink.Emit(context.Background(), evErr("0198dddd-0000-7000-8000-000000000002", coordinator.PhaseIngest, "no header row")))

	ev := recvEvent(t, events)
	assert.Equal(t, trace.EventPhaseError, ev.Type)
	assert.Equal(t, "no header row", ev.Error)
}

func TestFollow_WaitsForFileCreation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.ndjson")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The daemon has not written anything yet
	events, err := Follow(ctx, path, logging.NewTestLogger(t).Logger)
	require.NoError(t, err)

	sink, err := trace.NewFileSink(path)
	require.NoError(t, err)
	defer sink.Close()
	require.NoError(t, sink.Emit(context.Background(), evStart("0198dddd-0000-7000-8000-000000000003", coordinator.PhaseIngest)))

	ev := recvEvent(t, events)
	assert.Equal(t, "0198dddd-0000-7000-8000-000000000003", ev.SessionID)
}

func TestFollow_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("{not json\n"), 0o600))

	sink, err := trace.NewFileSink(path)
	require.NoError(t, err)
	defer sink.Close()
	require.NoError(t, sink.Emit(context.Background(), evStart("0198dddd-0000-7000-8000-000000000004", coordinator.PhaseIngest)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logs := logging.NewTestLogger(t)
	events, err := Follow(ctx, path, logs.Logger)
	require.NoError(t, err)

	// Only the valid line comes through; its arrival proves the bad
	// line before it was already handled
	ev := recvEvent(t, events)
	assert.Equal(t, "0198dddd-0000-7000-8000-000000000004", ev.SessionID)
	logs.AssertLogged(t, zapcore.WarnLevel, "skipping malformed trace line")
}

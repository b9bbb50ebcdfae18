package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	feed := NewFeed()
	a, cancelA := feed.Subscribe()
	b, cancelB := feed.Subscribe()
	defer cancelA()
	defer cancelB()

	require.NoError(t, feed.Emit(context.Background(), Event{Type: EventPhaseStart, Phase: "ingest"}))

	assert.Equal(t, "ingest", (<-a).Phase)
	assert.Equal(t, "ingest", (<-b).Phase)
}

func TestFeedCancelStopsDelivery(t *testing.T) {
	t.Parallel()

	feed := NewFeed()
	ch, cancel := feed.Subscribe()
	cancel()
	cancel()

	// Channel is closed after cancel.
	_, open := <-ch
	assert.False(t, open)

	require.NoError(t, feed.Emit(context.Background(), Event{Type: EventPhaseStart}))
}

func TestFeedDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()

	feed := NewFeed()
	ch, cancel := feed.Subscribe()
	defer cancel()

	// Overfill the buffer; Emit must never block.
	for i := 0; i < feedBuffer+10; i++ {
		require.NoError(t, feed.Emit(context.Background(), Event{Type: EventPhaseStart, Phase: "ingest"}))
	}
	assert.Len(t, ch, feedBuffer)
}

func TestFeedCloseClosesSubscribers(t *testing.T) {
	t.Parallel()

	feed := NewFeed()
	ch, cancel := feed.Subscribe()
	defer cancel()

	require.NoError(t, feed.Close())
	require.NoError(t, feed.Close())

	_, open := <-ch
	assert.False(t, open)

	// Emit and Subscribe after close are inert.
	require.NoError(t, feed.Emit(context.Background(), Event{Type: EventPhaseStart}))
	late, lateCancel := feed.Subscribe()
	defer lateCancel()
	_, open = <-late
	assert.False(t, open)
}

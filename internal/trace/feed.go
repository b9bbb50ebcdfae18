package trace

import (
	"context"
	"sync"
)

// feedBuffer is the per-subscriber channel depth. A subscriber that falls
// further behind loses events rather than stalling the run.
const feedBuffer = 64

// Feed is an in-process sink that fans events out to subscribers, used by
// the live dashboard.
type Feed struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]chan Event)}
}

// Subscribe registers a consumer. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (f *Feed) Subscribe() (<-chan Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Event, feedBuffer)
	if f.closed {
		close(ch)
		return ch, func() {}
	}

	id := f.nextID
	f.nextID++
	f.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if sub, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Emit delivers the event to every subscriber, dropping it for any whose
// buffer is full.
func (f *Feed) Emit(_ context.Context, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Close unregisters and closes all subscriber channels.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
	return nil
}

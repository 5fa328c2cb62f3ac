// Package events provides the in-process audit event bus for the consistency
// engine. Publishing never blocks: slow subscribers drop events rather than
// stalling the worker's poll loops.
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const defaultBufferSize = 64

// Bus distributes worker audit events to subscribers with optional
// type filtering.
//
// Thread safety: all methods are safe for concurrent use. Publish is
// non-blocking; if a subscriber's buffer is full the event is dropped for
// that subscriber only.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscription
	closed      bool
	dropped     atomic.Int64
}

// subscription is one subscriber's buffered channel plus its filter.
type subscription struct {
	id     string
	ch     chan Event
	filter Filter
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]*subscription)}
}

// Publish sends an event to all matching subscribers. Returns an error only
// if the bus is closed.
func (b *Bus) Publish(event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("event bus is closed")
	}

	for _, sub := range b.subscribers {
		if !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Dropped reports how many events were discarded because a subscriber's
// buffer was full. The count survives unsubscribes.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribe creates a subscription with optional filtering. The returned
// cleanup function must be called to release the subscription.
func (b *Bus) Subscribe(filter Filter, bufferSize int) (<-chan Event, func()) {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	sub := &subscription{
		id:     uuid.New().String(),
		ch:     make(chan Event, bufferSize),
		filter: filter,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		closed := make(chan Event)
		close(closed)
		return closed, func() {}
	}
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	cleanup := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[sub.id]; ok {
			delete(b.subscribers, sub.id)
			close(existing.ch)
		}
	}
	return sub.ch, cleanup
}

// Close shuts down the bus and all subscriptions. Publish fails afterwards.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.ch)
	}
	return nil
}

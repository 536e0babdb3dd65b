package qlc

import (
	"sync"
	"sync/atomic"
	"time"
)

// defaultSubscriptionBuffer is used when Subscribe is called with buffer <= 0.
const defaultSubscriptionBuffer = 64

// EventType identifies what changed.
type EventType string

// Event types delivered to subscribers.
const (
	// EventStatusChanged reports a function status change (push or status query).
	EventStatusChanged EventType = "status_changed"

	// EventCatalogReplaced reports that a refresh swapped in a new catalog.
	EventCatalogReplaced EventType = "catalog_replaced"

	// EventConnectionChanged reports a connection state transition.
	EventConnectionChanged EventType = "connection_changed"
)

// Event is a change notification for collaborators.
type Event struct {
	Type      EventType  `json:"type"`
	Kind      EntityKind `json:"kind,omitempty"`
	ID        string     `json:"id,omitempty"`
	Status    string     `json:"status,omitempty"`
	State     State      `json:"state"`
	Functions int        `json:"functions,omitempty"`
	Widgets   int        `json:"widgets,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// Subscription is a scoped event stream. Close releases it; Close is safe to
// call more than once and from any goroutine.
//
// Delivery never blocks the client: when the buffer is full the event is
// dropped and counted.
type Subscription struct {
	ch      chan Event
	broker  *broker
	once    sync.Once
	dropped atomic.Uint64
}

// Events returns the delivery channel. It is closed when the subscription
// or the client is closed.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped returns the number of events discarded because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close releases the subscription and closes its channel.
func (s *Subscription) Close() {
	s.broker.remove(s)
}

// broker fans events out to subscriptions.
type broker struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newBroker() *broker {
	return &broker{subs: make(map[*Subscription]struct{})}
}

func (b *broker) subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	s := &Subscription{ch: make(chan Event, buffer), broker: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (b *broker) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
	s.once.Do(func() { close(s.ch) })
}

// publish delivers ev to every subscription without blocking.
// Returns the number of subscriptions that dropped the event.
func (b *broker) publish(ev Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dropped := 0
	for s := range b.subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			dropped++
		}
	}
	return dropped
}

// closeAll closes every subscription. Later subscriptions are born closed.
func (b *broker) closeAll() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.closed = true
	b.mu.Unlock()

	for s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
}

// count returns the number of live subscriptions.
func (b *broker) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

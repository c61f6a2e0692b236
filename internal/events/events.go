package events

import (
	"context"
	"sync"
)

// TypeTxPosted is emitted exactly once per successfully posted transaction.
const TypeTxPosted = "tx.posted"

// Event describes a ledger occurrence delivered to subscribers.
type Event struct {
	Type      string
	TxID      string
	WalletIDs []string
	Payload   map[string]any
}

// Sink receives events from the transaction engine.
type Sink interface {
	Publish(ctx context.Context, event Event)
}

// Broker is an in-process broadcast sink: every subscriber receives every
// published event. Slow subscribers are skipped rather than blocking the
// posting path.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

// NewBroker constructs a broker whose subscriber channels hold up to buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broker{subs: make(map[int]chan Event), buffer: buffer}
}

// Publish fans the event out to all current subscribers.
func (b *Broker) Publish(_ context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its channel along with an
// unsubscribe function. The channel is closed on unsubscribe.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Discard is a sink that drops every event. Useful for tests.
type Discard struct{}

// Publish implements Sink.
func (Discard) Publish(context.Context, Event) {}

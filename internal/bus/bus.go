// Package bus implements the process-wide broadcast of inbound envelopes
// from connectors, the scheduler, and the gateway forwarder out to every
// per-agent dispatcher.
package bus

import (
	"sync"

	"github.com/haasonsaas/nexus/pkg/models"
)

// MinCapacity is the smallest allowed per-subscriber buffer; New raises
// anything smaller to it.
const MinCapacity = 256

// Lagged is sent in place of the messages a slow subscriber missed once its
// buffer fills up.
type Lagged struct {
	N int
}

// Envelope is one bus delivery: either an inbound message, or a Lagged
// notice telling the subscriber it fell behind.
type Envelope struct {
	Message *models.InboundEnvelope
	Lag     *Lagged
}

// Bus is a bounded, multi-subscriber broadcast channel of inbound
// envelopes. A slow subscriber never blocks a fast one or the producer:
// once a subscriber's buffer is full, further sends to it are dropped and
// counted, and the next successful send to that subscriber is preceded by
// a Lagged notice.
type Bus struct {
	mu          sync.Mutex
	capacity    int
	subscribers map[int]*subscriber
	nextID      int
	closed      bool
}

type subscriber struct {
	ch      chan Envelope
	lagging int
}

// New creates a Bus with the given per-subscriber buffer capacity. Values
// below MinCapacity are raised to it.
func New(capacity int) *Bus {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	return &Bus{capacity: capacity, subscribers: map[int]*subscriber{}}
}

// Subscription is a handle returned by Subscribe; callers must call Close
// when done to release the subscriber slot.
type Subscription struct {
	id   int
	bus  *Bus
	Recv <-chan Envelope
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		close(sub.ch)
		delete(s.bus.subscribers, s.id)
	}
}

// Subscribe registers a new subscriber and returns its handle.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: make(chan Envelope, b.capacity)}
	b.subscribers[id] = sub
	return &Subscription{id: id, bus: b, Recv: sub.ch}
}

// Send broadcasts msg to every current subscriber. A subscriber whose
// buffer is full is skipped and its lag counter incremented; the counter is
// flushed as a Lagged notice (best effort) the next time a slot frees up.
func (b *Bus) Send(msg *models.InboundEnvelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		b.deliverLocked(sub, Envelope{Message: msg})
	}
}

func (b *Bus) deliverLocked(sub *subscriber, env Envelope) {
	if sub.lagging > 0 {
		select {
		case sub.ch <- Envelope{Lag: &Lagged{N: sub.lagging}}:
			sub.lagging = 0
		default:
			sub.lagging++
			return
		}
	}
	select {
	case sub.ch <- env:
	default:
		sub.lagging++
	}
}

// Close shuts the bus down: no further Send calls are delivered, and every
// subscriber channel is closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount reports the number of active subscribers, for tests and
// diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

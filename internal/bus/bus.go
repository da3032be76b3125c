// ABOUTME: Process-wide event bus fanning state changes out to subscribers
// ABOUTME: Publishing never blocks; a subscriber that cannot keep up is dropped
package bus

import (
	"log/slog"
	"sync"

	"github.com/AutoBreezeBeats/breezebeats/internal/protocol"
	"github.com/google/uuid"
)

// DefaultBuffer is the per-subscriber channel capacity
const DefaultBuffer = 100

// Publisher is the narrow view of the bus handed to state owners
type Publisher interface {
	Publish(event protocol.Event)
}

// Subscription is one registered receiver of events
type Subscription struct {
	ID   string
	Name string

	events chan protocol.Event
	closed bool // guarded by Bus.mu
}

// Events returns the channel events are delivered on. It is closed when the
// subscription is unregistered or dropped.
func (s *Subscription) Events() <-chan protocol.Event {
	return s.events
}

// Bus delivers every published event to every registered subscription
type Bus struct {
	logger *slog.Logger
	buffer int

	mu   sync.Mutex
	subs map[string]*Subscription
}

// Option configures a Bus
type Option func(*Bus)

// WithBuffer sets the per-subscriber channel capacity
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// New creates an empty bus
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bus{
		logger: logger,
		buffer: DefaultBuffer,
		subs:   make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds a subscription. Initial events are queued on it before it
// becomes visible to publishers, so they always arrive first.
func (b *Bus) Register(name string, initial ...protocol.Event) *Subscription {
	sub := &Subscription{
		ID:     uuid.New().String(),
		Name:   name,
		events: make(chan protocol.Event, b.buffer+len(initial)),
	}
	for _, ev := range initial {
		sub.events <- ev
	}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	count := len(b.subs)
	b.mu.Unlock()

	b.logger.Debug("subscriber registered", "name", name, "id", sub.ID, "subscribers", count)
	return sub
}

// Unregister removes a subscription and closes its channel. Safe to call
// more than once and after the bus already dropped it.
func (b *Bus) Unregister(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

// Publish delivers the event to every subscriber without blocking
func (b *Bus) Publish(event protocol.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		b.deliverLocked(sub, event)
	}
}

// SendTo delivers the event to one subscriber only. Returns false if the
// subscriber is gone or was dropped because its buffer was full.
func (b *Bus) SendTo(sub *Subscription, event protocol.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub == nil || sub.closed {
		return false
	}
	return b.deliverLocked(sub, event)
}

// Len returns the number of live subscriptions
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) deliverLocked(sub *Subscription, event protocol.Event) bool {
	select {
	case sub.events <- event:
		return true
	default:
		b.logger.Warn("subscriber buffer full, dropping subscriber",
			"name", sub.Name, "id", sub.ID, "event", event.Type)
		b.removeLocked(sub)
		return false
	}
}

func (b *Bus) removeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(b.subs, sub.ID)
	close(sub.events)
	b.logger.Debug("subscriber removed", "name", sub.Name, "id", sub.ID, "subscribers", len(b.subs))
}

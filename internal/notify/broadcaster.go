package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultSubscriberBuffer is the channel capacity of a subscription
const DefaultSubscriberBuffer = 16

// Broadcaster fans notifications out to any number of subscribers.
// A subscriber whose buffer is full misses the notification.
type Broadcaster struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]chan Notification
	dropped atomic.Uint64
}

// NewBroadcaster creates an empty Broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Notification)}
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Notification, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Emit delivers n to every subscriber without blocking
func (b *Broadcaster) Emit(_ context.Context, n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- n:
		default:
			b.dropped.Add(1)
			slog.Debug("Dropping notification for slow subscriber", "subscriber", id, "notification", string(n.Name))
		}
	}
}

// Subscribers returns the number of active subscriptions
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

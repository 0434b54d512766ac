// Package bus is the in-process publish/subscribe backbone. Publishing never
// blocks: a subscriber whose buffer is full misses the event, or, for strict
// subscriptions, is closed.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Bus fans events out to subscribers by topic prefix.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	next    uint64
	dropped atomic.Uint64
}

type subscription struct {
	prefix string
	ch     chan Event
	strict bool
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[uint64]*subscription),
	}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Topic and
// returns how many received it.
func (b *Bus) Publish(evt Event) int {
	var evict []uint64
	b.mu.RLock()
	delivered := 0
	for id, sub := range b.subs {
		if !strings.HasPrefix(evt.Topic, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
			delivered++
		default:
			b.dropped.Add(1)
			if sub.strict {
				evict = append(evict, id)
			}
		}
	}
	b.mu.RUnlock()

	for _, id := range evict {
		b.remove(id)
	}
	return delivered
}

// Subscribe returns a channel receiving events whose topic starts with prefix.
// The returned function unsubscribes and closes the channel; it is safe to
// call more than once.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	return b.subscribe(prefix, bufSize, false)
}

// SubscribeStrict is Subscribe for consumers that cannot tolerate gaps: the
// first event that does not fit the buffer closes the channel instead of
// being skipped.
func (b *Bus) SubscribeStrict(prefix string, bufSize int) (<-chan Event, func()) {
	return b.subscribe(prefix, bufSize, true)
}

func (b *Bus) subscribe(prefix string, bufSize int, strict bool) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{prefix: prefix, ch: ch, strict: strict}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(id) })
	}
}

// remove drops subscription id and closes its channel. Publishers hold the
// read lock while sending, so the close cannot race a send.
func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.ch)
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was
// full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

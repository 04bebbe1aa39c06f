// Package events fans out progress updates to subscribers keyed by a string,
// typically a dataset creation job.
package events

import "sync"

// DefaultBuffer is the channel capacity given to each subscriber
const DefaultBuffer = 16

// Bus delivers values published under a key to every subscriber of that key.
// Publish never blocks; a subscriber whose buffer is full misses the value.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber[T]]struct{}
	buffer int
	closed bool
}

type subscriber[T any] struct {
	ch   chan T
	once sync.Once
}

func (s *subscriber[T]) close() {
	s.once.Do(func() { close(s.ch) })
}

// NewBus creates a Bus. A non positive buffer uses DefaultBuffer.
func NewBus[T any](buffer int) *Bus[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus[T]{subs: map[string]map[*subscriber[T]]struct{}{}, buffer: buffer}
}

// Subscribe returns a channel receiving values of key and a function that
// unsubscribes and closes the channel. Subscribing to a closed bus returns a
// closed channel.
func (b *Bus[T]) Subscribe(key string) (<-chan T, func()) {
	s := &subscriber[T]{ch: make(chan T, b.buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.close()
		return s.ch, func() {}
	}
	if b.subs[key] == nil {
		b.subs[key] = map[*subscriber[T]]struct{}{}
	}
	b.subs[key][s] = struct{}{}

	return s.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[key]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(b.subs, key)
			}
		}
		s.close()
	}
}

// Publish sends v to the current subscribers of key and reports how many received it
func (b *Bus[T]) Publish(key string, v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for s := range b.subs[key] {
		select {
		case s.ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribers counts the subscribers of key
func (b *Bus[T]) Subscribers(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[key])
}

// Close closes every subscriber channel. Later publishes are dropped.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for s := range set {
			s.close()
		}
	}
	b.subs = map[string]map[*subscriber[T]]struct{}{}
}

// Package event provides the typed publish/subscribe primitives that
// connect the feed, trigger, and notification layers. Components expose
// the topics they emit as part of their interface; there are no string
// event names.
package event

import "sync"

// Topic is a typed broadcast channel. Publish delivers synchronously in
// the caller's goroutine, so subscribers observe events in publish order.
type Topic[T any] struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(T)
}

// Subscribe registers fn and returns a token for Unsubscribe.
func (t *Topic[T]) Subscribe(fn func(T)) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subs == nil {
		t.subs = make(map[int]func(T))
	}
	t.nextID++
	t.subs[t.nextID] = fn
	return t.nextID
}

// Unsubscribe removes a subscriber. Unknown tokens are a no-op.
func (t *Topic[T]) Unsubscribe(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, id)
}

// Publish delivers v to every subscriber.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	fns := make([]func(T), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the current subscriber count.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Package event holds the small shared primitives every stateful
// component in this module builds on: an ordered, re-entrant-safe
// subscriber list, a tagged result type classifying errors by how the
// caller should react, and a tiny state-machine helper that notifies
// transitions through the subscriber list.
package event

import "sync"

// Handle identifies a single subscription, returned by Subscribe and
// consumed by Unsubscribe.
type Handle uint64

// Subscribers is an ordered, FIFO list of callbacks. Subscribe
// preserves registration order; Emit dispatches in that order and
// tolerates callbacks that subscribe or unsubscribe during dispatch
// (the subscriber list is snapshotted before dispatch starts, and a
// subscriber removed mid-dispatch is skipped rather than invoked).
type Subscribers[T any] struct {
	mu    sync.Mutex
	next  Handle
	subs  map[Handle]func(T)
	order []Handle
}

// NewSubscribers constructs an empty subscriber list.
func NewSubscribers[T any]() *Subscribers[T] {
	return &Subscribers[T]{
		next: 1,
		subs: make(map[Handle]func(T)),
	}
}

// Subscribe registers fn, to be called on every future Emit, in
// registration order relative to other live subscribers.
func (s *Subscribers[T]) Subscribe(fn func(T)) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.next
	s.next++
	s.subs[h] = fn
	s.order = append(s.order, h)
	return h
}

// Unsubscribe removes a subscription. It is safe to call from within a
// callback during Emit; the removed subscriber will not be invoked
// again, even later in the same Emit pass.
func (s *Subscribers[T]) Unsubscribe(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, h)
	for i, candidate := range s.order {
		if candidate == h {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Len reports the number of currently live subscriptions.
func (s *Subscribers[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Emit dispatches v to every subscriber live at the moment Emit was
// called, in registration order. Re-entrant Emit calls triggered from
// within a callback are permitted: the order slice is snapshotted
// up front so a subscription added mid-dispatch is not invoked until
// the next Emit.
func (s *Subscribers[T]) Emit(v T) {
	s.mu.Lock()
	snapshot := make([]Handle, len(s.order))
	copy(snapshot, s.order)
	s.mu.Unlock()

	for _, h := range snapshot {
		s.mu.Lock()
		fn, ok := s.subs[h]
		s.mu.Unlock()
		if !ok {
			continue
		}
		fn(v)
	}
}

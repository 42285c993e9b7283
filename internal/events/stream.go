package events

import (
	"sync"
	"sync/atomic"
)

// Stream provides fan-out pub/sub for values of type T. Subscribers are
// either channels or callbacks; channel delivery is non-blocking, so a full
// channel loses the value rather than stalling the publisher.
type Stream[T any] struct {
	mu         sync.Mutex
	sinks      map[uint64]sink[T]
	nextID     uint64
	replayLast bool
	last       T
	hasLast    bool
	dropped    atomic.Uint64
}

type sink[T any] interface {
	// deliver reports whether the value reached the subscriber.
	deliver(value T) bool
}

type chanSink[T any] struct{ ch chan<- T }

func (s chanSink[T]) deliver(value T) bool {
	select {
	case s.ch <- value:
		return true
	default:
		return false
	}
}

type funcSink[T any] struct{ fn func(T) }

func (s funcSink[T]) deliver(value T) bool {
	s.fn(value)
	return true
}

// NewStream creates a Stream. With replayLast set, the most recent published
// value is delivered to each new subscriber immediately, so late subscribers
// see the current state instead of waiting for the next publish.
func NewStream[T any](replayLast bool) *Stream[T] {
	return &Stream[T]{
		sinks:      make(map[uint64]sink[T]),
		replayLast: replayLast,
	}
}

// Subscribe registers a channel to receive published values and returns its
// cancel function. Cancelling twice is a no-op.
func (s *Stream[T]) Subscribe(ch chan<- T) func() {
	if ch == nil {
		panic("events: channel cannot be nil")
	}
	return s.add(chanSink[T]{ch: ch})
}

// SubscribeFunc registers a callback invoked synchronously on every publish
// and returns its cancel function. The callback must not block.
func (s *Stream[T]) SubscribeFunc(fn func(T)) func() {
	if fn == nil {
		panic("events: callback cannot be nil")
	}
	return s.add(funcSink[T]{fn: fn})
}

func (s *Stream[T]) add(sk sink[T]) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.sinks[id] = sk
	replay := s.replayLast && s.hasLast
	last := s.last
	s.mu.Unlock()

	// Replay outside the lock; a subscriber may publish from its callback.
	if replay {
		if !sk.deliver(last) {
			s.dropped.Add(1)
		}
	}

	return func() {
		s.mu.Lock()
		delete(s.sinks, id)
		s.mu.Unlock()
	}
}

// Publish delivers value to every current subscriber. Delivery happens
// outside the lock; subscribing or cancelling from a callback is safe.
func (s *Stream[T]) Publish(value T) {
	s.mu.Lock()
	if s.replayLast {
		s.last = value
		s.hasLast = true
	}
	targets := make([]sink[T], 0, len(s.sinks))
	for _, sk := range s.sinks {
		targets = append(targets, sk)
	}
	s.mu.Unlock()

	for _, sk := range targets {
		if !sk.deliver(value) {
			s.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of registered subscribers.
func (s *Stream[T]) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sinks)
}

// Dropped returns how many deliveries were lost to full subscriber channels
// since the stream was created.
func (s *Stream[T]) Dropped() uint64 {
	return s.dropped.Load()
}

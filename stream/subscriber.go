package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber receives events on a buffered channel. A slow subscriber
// loses events rather than stalling the dispatch path.
type Subscriber struct {
	id      string
	ch      chan *Event
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

func newSubscriber(id string, buffer int) *Subscriber {
	return &Subscriber{id: id, ch: make(chan *Event, buffer)}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the event channel. It is closed when the subscriber is
// removed or the feed shuts down.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// Dropped returns how many events were discarded because the buffer was
// full.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

func (s *Subscriber) send(evt *Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Package sse streams hub events to browsers over Server-Sent Events.
package sse

import (
	"sync"

	"github.com/dkeye/liveroom/internal/core"
)

const DefaultBuffer = 64

// Sink buffers events for one stream. TrySend never blocks; a full buffer is
// reported as backpressure and the hub drops the sink.
type Sink struct {
	events chan core.Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewSink(buffer int) *Sink {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Sink{
		events: make(chan core.Event, buffer),
		done:   make(chan struct{}),
	}
}

func (s *Sink) TrySend(ev core.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return core.ErrSinkClosed
	}
	select {
	case s.events <- ev:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

func (s *Sink) Events() <-chan core.Event { return s.events }

// Done is closed once the sink is closed.
func (s *Sink) Done() <-chan struct{} { return s.done }

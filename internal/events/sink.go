// Package events delivers session state changes and results to at most one
// listener per stream.
package events

import "sync"

// Listener receives values or errors from a Sink.
type Listener interface {
	Success(value any)
	Error(code, message string, details any)
}

// Sink is a fire-and-forget event destination. Deliveries while no listener
// is attached are dropped, and nothing is replayed on attach.
type Sink struct {
	mu       sync.RWMutex
	listener Listener
}

// NewSink returns a sink with no listener attached.
func NewSink() *Sink {
	return &Sink{}
}

// Attach replaces the current listener.
func (s *Sink) Attach(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// Detach removes the current listener.
func (s *Sink) Detach() {
	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
}

// Attached reports whether a listener is currently registered.
func (s *Sink) Attached() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener != nil
}

func (s *Sink) Success(value any) {
	if l := s.current(); l != nil {
		l.Success(value)
	}
}

func (s *Sink) Error(code, message string, details any) {
	if l := s.current(); l != nil {
		l.Error(code, message, details)
	}
}

func (s *Sink) current() Listener {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener
}

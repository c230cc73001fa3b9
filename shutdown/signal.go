package shutdown

import (
	"os"
	"sync"
)

// SignalCounter implements "first signal cancels, second signal exits".
// It remembers the last signal so the process can exit with 128+signo.
type SignalCounter struct {
	mu         sync.Mutex
	count      int
	last       os.Signal
	forceAfter int
	onForce    func(sig os.Signal)
}

// NewSignalCounter calls onForce (which may be nil) once the count reaches
// forceAfter. onForce runs under the counter's lock and is expected to exit.
func NewSignalCounter(forceAfter int, onForce func(sig os.Signal)) *SignalCounter {
	return &SignalCounter{
		forceAfter: forceAfter,
		onForce:    onForce,
	}
}

// Increment records sig and returns the new count.
func (s *SignalCounter) Increment(sig os.Signal) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.last = sig
	if s.count >= s.forceAfter && s.onForce != nil {
		s.onForce(sig)
	}
	return s.count
}

// Count returns the number of signals received.
func (s *SignalCounter) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// LastSignal returns the most recent signal, or nil.
func (s *SignalCounter) LastSignal() os.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Reset clears the count and last signal.
func (s *SignalCounter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = 0
	s.last = nil
}

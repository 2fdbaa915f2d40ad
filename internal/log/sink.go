package log

import (
	"sync"
)

// Sink is an io.Writer for zerolog output that forwards each rendered line
// to an attached consumer. Lines written before Attach are dropped: the
// persistence layer comes up after logging does, and console output still
// carries them.
type Sink struct {
	mu sync.RWMutex
	fn func(line []byte)
}

// NewSink returns a detached sink.
func NewSink() *Sink {
	return &Sink{}
}

// Attach installs the consumer. The consumer must not block; it receives its
// own copy of each line.
func (s *Sink) Attach(fn func(line []byte)) {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
}

func (s *Sink) Write(p []byte) (int, error) {
	s.mu.RLock()
	fn := s.fn
	s.mu.RUnlock()
	if fn != nil {
		line := make([]byte, len(p))
		copy(line, p)
		fn(line)
	}
	return len(p), nil
}

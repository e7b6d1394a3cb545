package remote

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// StreamTracker records open streams so a disconnect can abort them.
type StreamTracker struct {
	mu      sync.Mutex
	streams map[Aborter]struct{}
}

// Track registers s and returns a func that unregisters it.
func (t *StreamTracker) Track(s Aborter) (release func()) {
	t.mu.Lock()
	if t.streams == nil {
		t.streams = make(map[Aborter]struct{})
	}
	t.streams[s] = struct{}{}
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.streams, s)
		t.mu.Unlock()
	}
}

// Len returns the number of tracked streams.
func (t *StreamTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}

// AbortAll aborts and forgets every tracked stream.
func (t *StreamTracker) AbortAll() error {
	t.mu.Lock()
	streams := make([]Aborter, 0, len(t.streams))
	for s := range t.streams {
		streams = append(streams, s)
	}
	t.streams = nil
	t.mu.Unlock()

	var result *multierror.Error
	for _, s := range streams {
		if err := s.Abort(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

package utils

import (
	"sync"
	"time"
)

// Pacer enforces a minimum interval between consecutive operations. Fetches
// against a marketplace run strictly one at a time with a politeness delay
// between them; the delay is a scheduling requirement imposed by the target
// site, not a throughput optimization.
type Pacer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewPacer creates a Pacer with the given minimum interval.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{interval: interval}
}

// Wait blocks until at least the configured interval has passed since the
// previous call. The first call returns immediately.
func (p *Pacer) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.last.IsZero() {
		if elapsed := time.Since(p.last); elapsed < p.interval {
			time.Sleep(p.interval - elapsed)
		}
	}
	p.last = time.Now()
}

// IDSet is a set for tracking product IDs already seen within one scrape.
type IDSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewIDSet creates an empty IDSet.
func NewIDSet() *IDSet {
	return &IDSet{seen: make(map[string]struct{})}
}

// Add returns true if the ID was newly added, false if already present.
func (s *IDSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[id]; exists {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

// Size returns the number of unique IDs tracked.
func (s *IDSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

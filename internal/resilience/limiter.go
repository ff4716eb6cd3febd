package resilience

import (
	"sync"
	"time"
)

// SlidingWindowLimiter bounds how often a keyed operation may run: at most
// maxEvents per key within a sliding window.
type SlidingWindowLimiter struct {
	maxEvents int
	window    time.Duration

	mu     sync.Mutex
	events map[string][]time.Time
}

func NewSlidingWindowLimiter(maxEvents int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		maxEvents: maxEvents,
		window:    window,
		events:    make(map[string][]time.Time),
	}
}

// Allow records an attempt for key and reports whether it's within budget.
func (l *SlidingWindowLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	valid := make([]time.Time, 0, len(l.events[key]))
	for _, t := range l.events[key] {
		if now.Sub(t) < l.window {
			valid = append(valid, t)
		}
	}

	if len(valid) >= l.maxEvents {
		l.events[key] = valid
		return false
	}

	l.events[key] = append(valid, now)
	return true
}

// Reset clears all recorded attempts for key.
func (l *SlidingWindowLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.events, key)
}

package resilience

import (
	"sync"
	"time"
)

// BreakerState is one of Closed, Open, HalfOpen (§4.10).
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker is a per-destination circuit breaker. It generalizes the
// teacher's SimpleHealthTracker (consecutive-failure counting + an open
// window) into a standalone primitive usable for RPC endpoints, host URLs,
// and WebSocket reconnect attempts alike.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	openWindow       time.Duration
	probeCooldown    time.Duration

	state             BreakerState
	consecutiveFails  int
	firstFailAt       time.Time
	openedAt          time.Time
	halfOpenInFlight  bool
}

// NewBreaker builds a breaker with the spec's defaults: opens after 5
// consecutive failures within 30s, half-opens after 60s.
func NewBreaker() *Breaker {
	return &Breaker{
		failureThreshold: 5,
		openWindow:       30 * time.Second,
		probeCooldown:    60 * time.Second,
		state:            Closed,
	}
}

// Allow reports whether a call may proceed. In HalfOpen it admits exactly
// one in-flight probe at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.probeCooldown {
			b.state = HalfOpen
			b.halfOpenInFlight = true
			return true
		}
		return false
	case HalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	}
	return false
}

// RecordSuccess closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails = 0
	b.state = Closed
	b.halfOpenInFlight = false
}

// RecordFailure counts a failure; opens the breaker once the consecutive
// threshold is hit within the window, or immediately re-opens from HalfOpen.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.halfOpenInFlight = false
		b.open()
		return
	}

	now := time.Now()
	if b.consecutiveFails == 0 || now.Sub(b.firstFailAt) > b.openWindow {
		b.consecutiveFails = 0
		b.firstFailAt = now
	}
	b.consecutiveFails++
	if b.consecutiveFails >= b.failureThreshold {
		b.open()
	}
}

func (b *Breaker) open() {
	b.state = Open
	b.openedAt = time.Now()
	b.consecutiveFails = 0
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Registry keeps one Breaker per destination string (RPC endpoint, host
// URL), lazily created.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

func (r *Registry) Get(destination string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[destination]
	if !ok {
		b = NewBreaker()
		r.breakers[destination] = b
	}
	return b
}

// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"sync"
	"time"
)

// Breaker states.
const (
	breakerClosed   = "closed"
	breakerOpen     = "open"
	breakerHalfOpen = "half_open"
)

// BreakerConfig contains circuit breaker configuration.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures after which
	// the circuit opens.
	FailureThreshold int
	// CoolDown is how long the circuit stays open before allowing a
	// single trial call.
	CoolDown time.Duration
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		CoolDown:         30 * time.Second,
	}
}

// CircuitBreaker tracks consecutive failures for one backend reference.
// After FailureThreshold consecutive failures it opens and fails fast;
// after CoolDown it allows exactly one trial call (half-open). A
// successful trial closes the circuit, a failed one reopens it.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu                  sync.Mutex
	state               string
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
	now                 func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = DefaultBreakerConfig().CoolDown
	}
	return &CircuitBreaker{
		cfg:   cfg,
		state: breakerClosed,
		now:   time.Now,
	}
}

// Allow reports whether a call may proceed. In the open state it returns
// false until the cool-down elapses, then admits a single trial call.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.CoolDown {
			return false
		}
		b.state = breakerHalfOpen
		b.probeInFlight = true
		return true
	case breakerHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess closes the circuit and resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = breakerClosed
	b.consecutiveFailures = 0
	b.probeInFlight = false
}

// RecordFailure counts a failure. A failed half-open probe reopens the
// circuit immediately; in the closed state the circuit opens once the
// threshold is reached.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++

	if b.state == breakerHalfOpen {
		b.state = breakerOpen
		b.openedAt = b.now()
		b.probeInFlight = false
		return
	}

	if b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.state = breakerOpen
		b.openedAt = b.now()
	}
}

// State returns the current breaker state for health reporting.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerSet lazily creates one breaker per backend reference.
type BreakerSet struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet creates an empty breaker set.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{
		cfg:      cfg,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for a backend reference, creating it on first use.
func (s *BreakerSet) Get(backendRef string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[backendRef]
	if !ok {
		b = NewCircuitBreaker(s.cfg)
		s.breakers[backendRef] = b
	}
	return b
}

// States returns the state of every known breaker, for /health.
func (s *BreakerSet) States() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make(map[string]string, len(s.breakers))
	for ref, b := range s.breakers {
		states[ref] = b.State()
	}
	return states
}

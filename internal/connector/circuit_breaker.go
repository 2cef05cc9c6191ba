package connector

import (
	"errors"
	"sync"
	"time"

	"github.com/pitabwire/switchboard/internal/config"
)

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets calls through and counts consecutive failures.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the timeout elapses.
	BreakerOpen
	// BreakerHalfOpen lets trial calls through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned by Allow while the breaker rejects calls.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards one network connector. It opens after a run of
// consecutive failures and closes again after enough successful trial calls.
// It is safe for concurrent use.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	openedAt         time.Time
	now              func() time.Time
}

// NewCircuitBreaker creates a breaker from config, filling zero values with
// 5 failures, 2 successes and a 30s open period.
func NewCircuitBreaker(cfg config.CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            BreakerClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		now:              time.Now,
	}
}

// Allow returns nil if a call may proceed, or ErrBreakerOpen.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.advanceLocked() == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = BreakerClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.tripLocked()
		}
	case BreakerHalfOpen:
		// Any failed trial call reopens.
		cb.tripLocked()
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.advanceLocked()
}

// Counts returns the current failure and success counts.
func (cb *CircuitBreaker) Counts() (failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures, cb.successes
}

func (cb *CircuitBreaker) tripLocked() {
	cb.state = BreakerOpen
	cb.openedAt = cb.now()
	cb.successes = 0
}

// advanceLocked moves an expired open breaker to half-open. Must be called
// with lock held.
func (cb *CircuitBreaker) advanceLocked() BreakerState {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) > cb.timeout {
		cb.state = BreakerHalfOpen
		cb.successes = 0
	}
	return cb.state
}

// breakerSet lazily creates one breaker per connector id.
type breakerSet struct {
	mu       sync.Mutex
	cfg      config.CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

func newBreakerSet(cfg config.CircuitBreakerConfig) *breakerSet {
	return &breakerSet{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

func (s *breakerSet) get(connectorID string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[connectorID]
	if !ok {
		cb = NewCircuitBreaker(s.cfg)
		s.breakers[connectorID] = cb
	}
	return cb
}

// states returns a snapshot of every breaker's state keyed by connector id.
func (s *breakerSet) states() map[string]BreakerState {
	s.mu.Lock()
	ids := make(map[string]*CircuitBreaker, len(s.breakers))
	for id, cb := range s.breakers {
		ids[id] = cb
	}
	s.mu.Unlock()

	out := make(map[string]BreakerState, len(ids))
	for id, cb := range ids {
		out[id] = cb.State()
	}
	return out
}

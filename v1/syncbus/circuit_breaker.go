package syncbus

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/go-spin/v1/spinlock"
)

// ErrCircuitOpen is returned by CircuitBreakerBus.Publish while the backend is
// considered down.
var ErrCircuitOpen = errors.New("syncbus: circuit open")

// BreakerState is the state of a CircuitBreakerBus.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerProbing
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	}
	return "unknown"
}

// CircuitBreakerBus wraps a remote Bus so that lockers stop paying for a dead
// backend on every release. After threshold consecutive failed publishes it
// opens and rejects publishes for cooldown; then a single publish is let
// through as a probe. Cancelled publishes do not count as failures.
// Subscriptions always go to the wrapped bus.
type CircuitBreakerBus struct {
	bus       Bus
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       spinlock.Lock
	state    BreakerState
	failures int
	openedAt time.Time

	rejected atomic.Uint64
}

// NewCircuitBreaker wraps bus. A threshold below one is treated as one.
func NewCircuitBreaker(bus Bus, threshold int, cooldown time.Duration) *CircuitBreakerBus {
	return &CircuitBreakerBus{
		bus:       bus,
		threshold: max(threshold, 1),
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// State returns the current state. An open breaker whose cooldown has passed
// still reports BreakerOpen until the next publish probes the backend.
func (cb *CircuitBreakerBus) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsHealthy reports whether the next publish would reach the backend.
func (cb *CircuitBreakerBus) IsHealthy() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerOpen:
		return cb.now().Sub(cb.openedAt) >= cb.cooldown
	case BreakerProbing:
		return false
	}
	return true
}

// Rejected returns how many publishes failed fast with ErrCircuitOpen.
func (cb *CircuitBreakerBus) Rejected() uint64 { return cb.rejected.Load() }

func (cb *CircuitBreakerBus) enter() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.state = BreakerProbing
		return true
	case BreakerProbing:
		return false
	}
	return true
}

func (cb *CircuitBreakerBus) leave(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case err == nil:
		cb.state = BreakerClosed
		cb.failures = 0
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// the caller gave up; say nothing about the backend
		if cb.state == BreakerProbing {
			cb.state = BreakerOpen
		}
	default:
		cb.failures++
		if cb.state == BreakerProbing || cb.failures >= cb.threshold {
			cb.state = BreakerOpen
			cb.openedAt = cb.now()
		}
	}
}

// Publish implements Bus.Publish.
func (cb *CircuitBreakerBus) Publish(ctx context.Context, key string) error {
	if !cb.enter() {
		cb.rejected.Add(1)
		return ErrCircuitOpen
	}
	err := cb.bus.Publish(ctx, key)
	cb.leave(err)
	return err
}

// Subscribe implements Bus.Subscribe.
func (cb *CircuitBreakerBus) Subscribe(ctx context.Context, key string) (<-chan Event, error) {
	return cb.bus.Subscribe(ctx, key)
}

// Unsubscribe implements Bus.Unsubscribe.
func (cb *CircuitBreakerBus) Unsubscribe(ctx context.Context, key string, ch <-chan Event) error {
	return cb.bus.Unsubscribe(ctx, key, ch)
}

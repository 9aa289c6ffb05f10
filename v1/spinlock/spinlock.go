package spinlock

import (
	"context"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	spinerrors "github.com/mirkobrombin/go-spin/v1/errors"
)

const (
	unlocked int32 = iota
	locked
)

// Lock is a spin lock. The zero value is an unlocked lock using the default
// exponential backoff. A Lock must not be copied after first use.
type Lock struct {
	state   atomic.Int32
	name    string
	backoff Backoff
	metrics *lockMetrics
}

// Option configures a Lock created with New.
type Option func(*Lock)

// WithBackoff sets the policy applied between failed attempts.
func WithBackoff(b Backoff) Option {
	return func(l *Lock) {
		if b != nil {
			l.backoff = b
		}
	}
}

// WithMetrics registers per-lock Prometheus counters labelled with name.
func WithMetrics(reg prometheus.Registerer, name string) Option {
	return func(l *Lock) {
		l.name = name
		l.metrics = newLockMetrics(reg, name)
	}
}

// WithName labels misuse errors returned by the lock.
func WithName(name string) Option {
	return func(l *Lock) { l.name = name }
}

// New returns an unlocked Lock configured with opts.
func New(opts ...Option) *Lock {
	l := &Lock{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAcquire makes a single attempt to take the lock.
func (l *Lock) TryAcquire() bool {
	if l.state.CompareAndSwap(unlocked, locked) {
		l.metrics.observeAcquire(0)
		return true
	}
	return false
}

// Acquire blocks, spinning, until the calling task holds the lock.
func (l *Lock) Acquire() {
	if l.TryAcquire() {
		return
	}
	wait := l.policy()
	for attempt := 1; ; attempt++ {
		wait(attempt)
		// Plain load first so waiters spin on a shared cache line instead of
		// hammering it with CAS writes.
		if l.state.Load() == unlocked && l.state.CompareAndSwap(unlocked, locked) {
			l.metrics.observeAcquire(attempt)
			return
		}
	}
}

// AcquireContext is like Acquire but returns ctx.Err() once ctx is done.
// On error the lock is not held.
func (l *Lock) AcquireContext(ctx context.Context) error {
	if l.TryAcquire() {
		return nil
	}
	wait := l.policy()
	done := ctx.Done()
	for attempt := 1; ; attempt++ {
		select {
		case <-done:
			return ctx.Err()
		default:
		}
		wait(attempt)
		if l.state.Load() == unlocked && l.state.CompareAndSwap(unlocked, locked) {
			l.metrics.observeAcquire(attempt)
			return nil
		}
	}
}

// Release unlocks the lock. Releasing a lock that is not locked returns a
// *errors.MisuseError wrapping errors.ErrInvalidRelease.
func (l *Lock) Release() error {
	if l.state.CompareAndSwap(locked, unlocked) {
		return nil
	}
	l.metrics.observeMisuse()
	return &spinerrors.MisuseError{Lock: l.name, Op: "release", Err: spinerrors.ErrInvalidRelease}
}

// Lock implements sync.Locker.
func (l *Lock) Lock() { l.Acquire() }

// Unlock implements sync.Locker. It panics on an unlocked lock, as
// sync.Mutex does.
func (l *Lock) Unlock() {
	if err := l.Release(); err != nil {
		panic("spinlock: " + err.Error())
	}
}

// Locked reports whether the lock is currently held. The answer may be stale
// by the time the caller looks at it.
func (l *Lock) Locked() bool { return l.state.Load() == locked }

func (l *Lock) policy() Backoff {
	if l.backoff == nil {
		return defaultBackoff
	}
	return l.backoff
}

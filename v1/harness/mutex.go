package harness

import (
	"context"
	"time"

	"github.com/mirkobrombin/go-spin/v1/lock"
	"github.com/mirkobrombin/go-spin/v1/spinlock"
)

// Release ends the acquisition it was returned for.
type Release func(ctx context.Context) error

// Mutex is the lock under test. Acquire returns the Release bound to that
// acquisition, so a holder whose lease ran out can never present the next
// holder's identity.
type Mutex interface {
	Acquire(ctx context.Context) (Release, error)
}

type spinMutex struct {
	l *spinlock.Lock
}

// Spin adapts a spinlock.Lock.
func Spin(l *spinlock.Lock) Mutex { return spinMutex{l: l} }

func (m spinMutex) Acquire(ctx context.Context) (Release, error) {
	if err := m.l.AcquireContext(ctx); err != nil {
		return nil, err
	}
	return func(context.Context) error { return m.l.Release() }, nil
}

type ownedMutex struct {
	l *spinlock.OwnedLock
}

// Owned adapts a spinlock.OwnedLock. Each Release presents the token of its
// own acquisition.
func Owned(l *spinlock.OwnedLock) Mutex { return ownedMutex{l: l} }

func (m ownedMutex) Acquire(ctx context.Context) (Release, error) {
	tok, err := m.l.AcquireContext(ctx)
	if err != nil {
		return nil, err
	}
	return func(context.Context) error { return m.l.Release(tok) }, nil
}

type keyedMutex struct {
	l   lock.Locker
	key string
	ttl time.Duration
}

// Keyed adapts a single key of a lock.Locker. Each Release presents the
// token of its own acquisition, so a worker that outlived its TTL gets
// errors.ErrNotHolder instead of freeing the key for the next holder.
func Keyed(l lock.Locker, key string, ttl time.Duration) Mutex {
	return keyedMutex{l: l, key: key, ttl: ttl}
}

func (m keyedMutex) Acquire(ctx context.Context) (Release, error) {
	tok, err := m.l.Acquire(ctx, m.key, m.ttl)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error { return m.l.Release(ctx, m.key, tok) }, nil
}

package lock

import (
	"context"
	"time"

	"github.com/mirkobrombin/go-spin/v1/spinlock"
	"github.com/mirkobrombin/go-spin/v1/syncbus"

	spinerrors "github.com/mirkobrombin/go-spin/v1/errors"
)

type lockState struct {
	token Token
	timer *time.Timer
}

// InMemory implements Locker using local memory. The key table is guarded by
// a spinlock.Lock since every critical section is a map lookup.
type InMemory struct {
	mu    spinlock.Lock
	bus   syncbus.Bus
	locks map[string]*lockState
	opts  options
}

// NewInMemory returns a new in-memory locker that uses bus to propagate
// events. A nil bus selects a private in-memory bus.
func NewInMemory(bus syncbus.Bus, opts ...Option) *InMemory {
	if bus == nil {
		bus = syncbus.NewInMemoryBus()
	}
	return &InMemory{
		bus:   bus,
		locks: make(map[string]*lockState),
		opts:  newOptions(opts),
	}
}

// TryLock attempts to obtain the lock without waiting.
func (l *InMemory) TryLock(ctx context.Context, key string, ttl time.Duration) (Token, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	l.mu.Lock()
	if _, held := l.locks[key]; held {
		l.mu.Unlock()
		return "", false, nil
	}
	st := &lockState{token: newToken()}
	if ttl > 0 {
		st.timer = time.AfterFunc(ttl, func() { l.expire(key, st) })
	}
	l.locks[key] = st
	l.mu.Unlock()
	_ = l.bus.Publish(ctx, lockTopic(key))
	return st.token, true, nil
}

// Acquire spins until the lock is obtained or ctx is done.
func (l *InMemory) Acquire(ctx context.Context, key string, ttl time.Duration) (Token, error) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			l.opts.backoff(attempt)
		}
		tok, ok, err := l.TryLock(ctx, key, ttl)
		if err != nil {
			return "", err
		}
		if ok {
			return tok, nil
		}
	}
}

// Release frees key if tok still holds it. A key nobody holds yields
// errors.ErrInvalidRelease; a key held under another token yields
// errors.ErrNotHolder and stays locked.
func (l *InMemory) Release(ctx context.Context, key string, tok Token) error {
	l.mu.Lock()
	st, held := l.locks[key]
	switch {
	case !held:
		l.mu.Unlock()
		return &spinerrors.MisuseError{Lock: key, Op: "release", Err: spinerrors.ErrInvalidRelease}
	case st.token != tok:
		l.mu.Unlock()
		return &spinerrors.MisuseError{Lock: key, Op: "release", Err: spinerrors.ErrNotHolder}
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	delete(l.locks, key)
	l.mu.Unlock()
	_ = l.bus.Publish(ctx, unlockTopic(key))
	return nil
}

// expire drops st if it is still the current state of key, so a TTL firing
// late never releases a newer holder.
func (l *InMemory) expire(key string, st *lockState) {
	l.mu.Lock()
	cur, ok := l.locks[key]
	if ok && cur == st {
		delete(l.locks, key)
	}
	l.mu.Unlock()
	if ok && cur == st {
		_ = l.bus.Publish(context.Background(), unlockTopic(key))
	}
}

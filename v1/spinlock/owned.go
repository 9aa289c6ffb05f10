package spinlock

import (
	"context"
	"sync/atomic"

	spinerrors "github.com/mirkobrombin/go-spin/v1/errors"
)

// Token identifies one acquisition of an OwnedLock. The zero Token is never
// handed out.
type Token uint64

// OwnedLock is a spin lock whose state word holds the token of the current
// holder, so a release can be checked against it. The zero value is unlocked.
type OwnedLock struct {
	holder  atomic.Uint64
	seq     atomic.Uint64
	name    string
	backoff Backoff
}

// NewOwned returns an unlocked OwnedLock. Only WithBackoff and WithName
// affect an OwnedLock.
func NewOwned(opts ...Option) *OwnedLock {
	var cfg Lock
	for _, opt := range opts {
		opt(&cfg)
	}
	return &OwnedLock{name: cfg.name, backoff: cfg.backoff}
}

func (l *OwnedLock) next() Token {
	for {
		if t := l.seq.Add(1); t != 0 {
			return Token(t)
		}
	}
}

// TryAcquire makes a single attempt and returns the token on success.
func (l *OwnedLock) TryAcquire() (Token, bool) {
	t := l.next()
	if l.holder.CompareAndSwap(0, uint64(t)) {
		return t, true
	}
	return 0, false
}

// Acquire spins until the lock is held and returns the holder token.
func (l *OwnedLock) Acquire() Token {
	t := l.next()
	wait := l.policy()
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			wait(attempt)
		}
		if l.holder.Load() == 0 && l.holder.CompareAndSwap(0, uint64(t)) {
			return t
		}
	}
}

// AcquireContext is like Acquire but gives up when ctx is done.
func (l *OwnedLock) AcquireContext(ctx context.Context) (Token, error) {
	t := l.next()
	wait := l.policy()
	done := ctx.Done()
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-done:
				return 0, ctx.Err()
			default:
			}
			wait(attempt)
		}
		if l.holder.Load() == 0 && l.holder.CompareAndSwap(0, uint64(t)) {
			return t, nil
		}
	}
}

// Release unlocks the lock if t belongs to the current holder.
func (l *OwnedLock) Release(t Token) error {
	if t != 0 && l.holder.CompareAndSwap(uint64(t), 0) {
		return nil
	}
	err := spinerrors.ErrNotHolder
	if l.holder.Load() == 0 {
		err = spinerrors.ErrInvalidRelease
	}
	return &spinerrors.MisuseError{Lock: l.name, Op: "release", Err: err}
}

// Locked reports whether some task holds the lock.
func (l *OwnedLock) Locked() bool { return l.holder.Load() != 0 }

func (l *OwnedLock) policy() Backoff {
	if l.backoff == nil {
		return defaultBackoff
	}
	return l.backoff
}

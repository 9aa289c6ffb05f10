package lock

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mirkobrombin/go-spin/v1/spinlock"
)

// Token identifies one acquisition of a key. Release must be given the token
// returned by the matching TryLock or Acquire, so a holder whose TTL expired
// cannot free the key for whoever took it next.
type Token string

// Locker is a keyed mutual-exclusion lock.
type Locker interface {
	// TryLock attempts to obtain the lock without waiting.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Token, bool, error)
	// Acquire blocks until the lock is obtained or ctx is done.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Token, error)
	// Release frees the lock for key if tok still holds it.
	Release(ctx context.Context, key string, tok Token) error
}

func newToken() Token { return Token(uuid.NewString()) }

// Option configures a Locker.
type Option func(*options)

type options struct {
	backoff      spinlock.Backoff
	pollInterval time.Duration
}

// WithBackoff sets the policy applied between failed in-memory attempts.
func WithBackoff(b spinlock.Backoff) Option {
	return func(o *options) { o.backoff = b }
}

// WithPollInterval sets how long the Redis locker waits for an unlock event
// before retrying anyway.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

const defaultPollInterval = 10 * time.Millisecond

func newOptions(opts []Option) options {
	o := options{
		backoff:      spinlock.Exponential(spinlock.DefaultMaxBackoff),
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.backoff == nil {
		o.backoff = spinlock.Yield
	}
	if o.pollInterval <= 0 {
		o.pollInterval = defaultPollInterval
	}
	return o
}

func lockTopic(key string) string   { return "lock:" + key }
func unlockTopic(key string) string { return "unlock:" + key }

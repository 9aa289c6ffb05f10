package lock

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-spin/v1/syncbus"

	spinerrors "github.com/mirkobrombin/go-spin/v1/errors"
)

// releaseScript deletes KEYS[1] only while it still stores ARGV[1].
// It returns 1 on delete, 0 when another token holds the key and -1 when the
// key is gone.
var releaseScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur then
    return -1
end
if cur == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis implements Locker using SET NX on a Redis backend. The value stored
// under the key is the Token of the current acquisition.
type Redis struct {
	client *redis.Client
	bus    syncbus.Bus
	opts   options
}

// NewRedis returns a new Redis locker using the provided client.
func NewRedis(client *redis.Client, bus syncbus.Bus, opts ...Option) *Redis {
	if bus == nil {
		bus = syncbus.NewInMemoryBus()
	}
	return &Redis{client: client, bus: bus, opts: newOptions(opts)}
}

// TryLock attempts to obtain the lock without waiting.
func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (Token, bool, error) {
	tok := newToken()
	ok, err := r.client.SetNX(ctx, key, string(tok), ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	_ = r.bus.Publish(ctx, lockTopic(key))
	return tok, true, nil
}

// Acquire retries TryLock until it succeeds or ctx is done. Between attempts
// it waits for an unlock event or the poll interval, whichever comes first;
// polling covers holders whose TTL expired without an event.
func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (Token, error) {
	tok, ok, err := r.TryLock(ctx, key, ttl)
	if err != nil || ok {
		return tok, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	unlocked, err := r.bus.Subscribe(subCtx, unlockTopic(key))
	if err != nil {
		return "", err
	}
	timer := time.NewTimer(r.opts.pollInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-unlocked:
		case <-timer.C:
		}
		tok, ok, err := r.TryLock(ctx, key, ttl)
		if err != nil || ok {
			return tok, err
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(r.opts.pollInterval)
	}
}

// Release deletes key if tok still holds it. It fails with
// errors.ErrInvalidRelease when the key is not held at all and with
// errors.ErrNotHolder when the key expired and was taken by someone else.
func (r *Redis) Release(ctx context.Context, key string, tok Token) error {
	n, err := releaseScript.Run(ctx, r.client, []string{key}, string(tok)).Int()
	if err != nil {
		return err
	}
	switch n {
	case -1:
		return &spinerrors.MisuseError{Lock: key, Op: "release", Err: spinerrors.ErrInvalidRelease}
	case 0:
		return &spinerrors.MisuseError{Lock: key, Op: "release", Err: spinerrors.ErrNotHolder}
	}
	_ = r.bus.Publish(ctx, unlockTopic(key))
	return nil
}

package watchbus

import (
	"context"
	"errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	streamMaxLen = 1000
	readBlock    = time.Second
	retryDelay   = 100 * time.Millisecond
)

// Redis implements WatchBus on Redis streams, so watchers in other processes
// see every payload published after they started watching.
type Redis struct {
	client *redis.Client

	mu      sync.Mutex
	cancels map[<-chan []byte]context.CancelFunc
}

// NewRedis returns a Redis bus using client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, cancels: make(map[<-chan []byte]context.CancelFunc)}
}

// Publish appends data to the stream named key, trimming it to roughly the
// last thousand entries.
func (b *Redis) Publish(ctx context.Context, key string, data []byte) error {
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"data": data},
	}).Err()
}

// Watch starts reading key after its current last entry.
func (b *Redis) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	last, err := b.lastID(ctx, key)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan []byte, watchBuffer)
	b.mu.Lock()
	b.cancels[ch] = cancel
	b.mu.Unlock()

	go func() {
		defer close(ch)
		defer b.forget(ch)
		for {
			res, err := b.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{key, last},
				Block:   readBlock,
				Count:   watchBuffer,
			}).Result()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if !errors.Is(err, redis.Nil) {
					time.Sleep(retryDelay)
				}
				continue
			}
			for _, s := range res {
				for _, msg := range s.Messages {
					last = msg.ID
					v, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					select {
					case ch <- []byte(v):
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return ch, nil
}

// lastID returns the id of the newest entry of key, or "0-0" for an empty or
// missing stream.
func (b *Redis) lastID(ctx context.Context, key string) (string, error) {
	msgs, err := b.client.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

func (b *Redis) forget(ch <-chan []byte) {
	b.mu.Lock()
	delete(b.cancels, ch)
	b.mu.Unlock()
}

// Unwatch implements WatchBus.Unwatch. The channel is closed by the reader
// goroutine once it notices the cancellation.
func (b *Redis) Unwatch(_ context.Context, _ string, ch <-chan []byte) error {
	b.mu.Lock()
	cancel, ok := b.cancels[ch]
	delete(b.cancels, ch)
	b.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

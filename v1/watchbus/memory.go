package watchbus

import (
	"context"

	"github.com/mirkobrombin/go-spin/v1/spinlock"
)

// InMemory is a process-local WatchBus. A watcher that falls more than a few
// payloads behind misses the ones published while its buffer is full.
type InMemory struct {
	mu   spinlock.Lock
	subs map[string][]chan []byte
}

// NewInMemory returns an empty InMemory bus.
func NewInMemory() *InMemory {
	return &InMemory{subs: make(map[string][]chan []byte)}
}

// Publish implements WatchBus.Publish.
func (b *InMemory) Publish(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[key] {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// Watch implements WatchBus.Watch.
func (b *InMemory) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := make(chan []byte, watchBuffer)
	b.mu.Lock()
	b.subs[key] = append(b.subs[key], ch)
	b.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = b.Unwatch(context.Background(), key, ch)
	}()
	return ch, nil
}

// Unwatch implements WatchBus.Unwatch. Unknown channels are ignored.
func (b *InMemory) Unwatch(_ context.Context, key string, ch <-chan []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[key]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			close(c)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.subs, key)
	} else {
		b.subs[key] = subs
	}
	return nil
}

func (b *InMemory) watchers(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[key])
}

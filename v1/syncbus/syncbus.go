// Package syncbus propagates lock and harness events between processes.
//
// Publishers send a key such as "unlock:<name>" and every subscriber of that
// key receives an Event carrying a unique id. Delivery is best effort: each
// subscriber channel buffers one event and further events are dropped while it
// is full, which is enough for wake-up style notifications.
package syncbus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Event is a single notification delivered to subscribers of Key.
type Event struct {
	Key string
	ID  string
}

// Bus provides a simple pub/sub mechanism.
type Bus interface {
	Publish(ctx context.Context, key string) error
	Subscribe(ctx context.Context, key string) (<-chan Event, error)
	Unsubscribe(ctx context.Context, key string, ch <-chan Event) error
}

// Metrics counts events sent and handed to subscriber channels.
type Metrics struct {
	Published uint64
	Delivered uint64
}

// registry tracks local subscriber channels per key. Backends embed it and
// feed it whatever arrives from the wire.
type registry struct {
	mu        sync.Mutex
	subs      map[string][]chan Event
	published atomic.Uint64
	delivered atomic.Uint64
}

func newRegistry() registry {
	return registry{subs: make(map[string][]chan Event)}
}

// add registers a new channel and reports whether it is the first for key.
// Callers must hold r.mu.
func (r *registry) add(key string) (chan Event, bool) {
	ch := make(chan Event, 1)
	first := len(r.subs[key]) == 0
	r.subs[key] = append(r.subs[key], ch)
	return ch, first
}

// remove closes ch and reports whether key has no subscribers left.
// Callers must hold r.mu.
func (r *registry) remove(key string, ch <-chan Event) (last, found bool) {
	subs := r.subs[key]
	for i, c := range subs {
		if c == ch {
			subs[i] = subs[len(subs)-1]
			subs = subs[:len(subs)-1]
			close(c)
			found = true
			break
		}
	}
	if len(subs) == 0 {
		delete(r.subs, key)
		return found, found
	}
	r.subs[key] = subs
	return false, found
}

func (r *registry) deliver(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs[ev.Key] {
		select {
		case ch <- ev:
			r.delivered.Add(1)
		default:
		}
	}
}

func (r *registry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, subs := range r.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(r.subs, key)
	}
}

// Metrics returns the published and delivered counts.
func (r *registry) Metrics() Metrics {
	return Metrics{
		Published: r.published.Load(),
		Delivered: r.delivered.Load(),
	}
}

// unsubscribeOnDone removes ch once ctx ends.
func unsubscribeOnDone(ctx context.Context, b Bus, key string, ch <-chan Event) {
	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), key, ch)
	}()
}

// InMemoryBus is a local implementation of Bus, used by single-process
// deployments and tests.
type InMemoryBus struct {
	registry
	pending map[string]struct{}
}

// NewInMemoryBus returns a new InMemoryBus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{registry: newRegistry(), pending: make(map[string]struct{})}
}

// Publish implements Bus.Publish. Concurrent publishes of the same key are
// collapsed into one event.
func (b *InMemoryBus) Publish(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if _, ok := b.pending[key]; ok {
		b.mu.Unlock()
		return nil
	}
	b.pending[key] = struct{}{}
	b.mu.Unlock()

	b.published.Add(1)
	b.deliver(Event{Key: key, ID: uuid.NewString()})

	b.mu.Lock()
	delete(b.pending, key)
	b.mu.Unlock()
	return nil
}

// Subscribe implements Bus.Subscribe. The subscription ends when ctx does.
func (b *InMemoryBus) Subscribe(ctx context.Context, key string) (<-chan Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	ch, _ := b.add(key)
	b.mu.Unlock()
	unsubscribeOnDone(ctx, b, key, ch)
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *InMemoryBus) Unsubscribe(ctx context.Context, key string, ch <-chan Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.remove(key, ch)
	b.mu.Unlock()
	return nil
}

// Close closes every subscriber channel.
func (b *InMemoryBus) Close() error {
	b.closeAll()
	return nil
}

package syncbus

import (
	"context"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	spinerrors "github.com/mirkobrombin/go-spin/v1/errors"
)

// RedisBus implements Bus on top of Redis pub/sub. One PubSub connection is
// opened per subscribed key and shared by all local subscribers of that key.
type RedisBus struct {
	registry
	client  *redis.Client
	pubsubs map[string]*redis.PubSub
	closed  bool
}

// NewRedisBus returns a new RedisBus using the provided client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{
		registry: newRegistry(),
		client:   client,
		pubsubs:  make(map[string]*redis.PubSub),
	}
}

// Publish implements Bus.Publish.
func (b *RedisBus) Publish(ctx context.Context, key string) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return spinerrors.ErrConnectionClosed
	}
	if err := b.client.Publish(ctx, key, uuid.NewString()).Err(); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *RedisBus) Subscribe(ctx context.Context, key string) (<-chan Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, spinerrors.ErrConnectionClosed
	}
	if _, ok := b.pubsubs[key]; !ok {
		ps := b.client.Subscribe(context.Background(), key)
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			return nil, err
		}
		b.pubsubs[key] = ps
		go b.dispatch(ps.Channel())
	}
	ch, _ := b.add(key)
	unsubscribeOnDone(ctx, b, key, ch)
	return ch, nil
}

func (b *RedisBus) dispatch(msgs <-chan *redis.Message) {
	for msg := range msgs {
		b.deliver(Event{Key: msg.Channel, ID: msg.Payload})
	}
}

// Unsubscribe implements Bus.Unsubscribe. The PubSub connection for key is
// closed with its last subscriber.
func (b *RedisBus) Unsubscribe(ctx context.Context, key string, ch <-chan Event) error {
	b.mu.Lock()
	last, _ := b.remove(key, ch)
	ps := b.pubsubs[key]
	if last {
		delete(b.pubsubs, key)
	}
	b.mu.Unlock()
	if last && ps != nil {
		return ps.Close()
	}
	return nil
}

// Close tears down every subscription. The client is left open.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	b.closed = true
	pubsubs := b.pubsubs
	b.pubsubs = make(map[string]*redis.PubSub)
	b.mu.Unlock()
	var firstErr error
	for _, ps := range pubsubs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.closeAll()
	return firstErr
}

package syncbus

import (
	"context"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
)

// NATSBus implements Bus using core NATS subjects.
type NATSBus struct {
	registry
	conn *nats.Conn
	nsub map[string]*nats.Subscription
}

// NewNATSBus returns a new NATSBus using the provided connection.
func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{
		registry: newRegistry(),
		conn:     conn,
		nsub:     make(map[string]*nats.Subscription),
	}
}

// Publish implements Bus.Publish.
func (b *NATSBus) Publish(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.conn.Publish(key, []byte(uuid.NewString())); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *NATSBus) Subscribe(ctx context.Context, key string) (<-chan Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.nsub[key]; !ok {
		sub, err := b.conn.Subscribe(key, func(m *nats.Msg) {
			b.deliver(Event{Key: m.Subject, ID: string(m.Data)})
		})
		if err != nil {
			return nil, err
		}
		// Make sure the server knows about the interest before returning so a
		// publish right after Subscribe is not lost.
		if err := b.conn.Flush(); err != nil {
			_ = sub.Unsubscribe()
			return nil, err
		}
		b.nsub[key] = sub
	}
	ch, _ := b.add(key)
	unsubscribeOnDone(ctx, b, key, ch)
	return ch, nil
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *NATSBus) Unsubscribe(ctx context.Context, key string, ch <-chan Event) error {
	b.mu.Lock()
	last, _ := b.remove(key, ch)
	sub := b.nsub[key]
	if last {
		delete(b.nsub, key)
	}
	b.mu.Unlock()
	if last && sub != nil {
		return sub.Unsubscribe()
	}
	return nil
}

package syncbus

import (
	"context"
	"fmt"
	"strings"

	sarama "github.com/IBM/sarama"
	"github.com/google/uuid"
)

// KafkaBus implements Bus using one Kafka topic per key. Only partition 0 is
// consumed, starting from the newest offset.
type KafkaBus struct {
	registry
	producer sarama.SyncProducer
	consumer sarama.Consumer
	client   sarama.Client
	pcs      map[string]sarama.PartitionConsumer
}

// NewKafkaBus creates a new KafkaBus connecting to the given brokers.
func NewKafkaBus(brokers []string, cfg *sarama.Config) (*KafkaBus, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, err
	}
	return &KafkaBus{
		registry: newRegistry(),
		producer: producer,
		consumer: consumer,
		client:   client,
		pcs:      make(map[string]sarama.PartitionConsumer),
	}, nil
}

// topicName maps a bus key to a legal Kafka topic name. The mapping is
// injective: '_' is the escape byte, written as "__" for itself and as "_xx"
// (lower-case hex) for every byte outside [a-zA-Z0-9.-].
func topicName(key string) string {
	var sb strings.Builder
	sb.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-':
			sb.WriteByte(c)
		case c == '_':
			sb.WriteString("__")
		default:
			fmt.Fprintf(&sb, "_%02x", c)
		}
	}
	return sb.String()
}

// Publish implements Bus.Publish.
func (b *KafkaBus) Publish(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: topicName(key),
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(uuid.NewString()),
	}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *KafkaBus) Subscribe(ctx context.Context, key string) (<-chan Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pcs[key]; !ok {
		pc, err := b.consumer.ConsumePartition(topicName(key), 0, sarama.OffsetNewest)
		if err != nil {
			return nil, err
		}
		b.pcs[key] = pc
		go b.dispatch(key, pc)
	}
	ch, _ := b.add(key)
	unsubscribeOnDone(ctx, b, key, ch)
	return ch, nil
}

func (b *KafkaBus) dispatch(key string, pc sarama.PartitionConsumer) {
	for msg := range pc.Messages() {
		if msg.Key != nil && string(msg.Key) != key {
			continue
		}
		b.deliver(Event{Key: key, ID: string(msg.Value)})
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *KafkaBus) Unsubscribe(ctx context.Context, key string, ch <-chan Event) error {
	b.mu.Lock()
	last, _ := b.remove(key, ch)
	pc := b.pcs[key]
	if last {
		delete(b.pcs, key)
	}
	b.mu.Unlock()
	if last && pc != nil {
		return pc.Close()
	}
	return nil
}

// Close releases resources used by the KafkaBus.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	pcs := b.pcs
	b.pcs = make(map[string]sarama.PartitionConsumer)
	b.mu.Unlock()
	for _, pc := range pcs {
		_ = pc.Close()
	}
	b.closeAll()
	_ = b.producer.Close()
	_ = b.consumer.Close()
	return b.client.Close()
}

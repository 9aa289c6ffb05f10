package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/mirkobrombin/go-spin/v1/harness"
)

const defaultPrefix = "spin:report:"

// RedisStore keeps reports as encoded values under prefix+id.
type RedisStore struct {
	client *redis.Client
	codec  Codec
	prefix string
	ttl    time.Duration
}

// NewRedis returns a RedisStore. A nil codec selects JSONCodec; a zero ttl
// keeps reports forever.
func NewRedis(client *redis.Client, codec Codec, ttl time.Duration) *RedisStore {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &RedisStore{client: client, codec: codec, prefix: defaultPrefix, ttl: ttl}
}

// Save implements Store.Save.
func (s *RedisStore) Save(ctx context.Context, rep *harness.Report) error {
	if rep == nil || rep.ID == "" {
		return errors.New("report: missing id")
	}
	data, err := s.codec.Marshal(rep)
	if err != nil {
		return fmt.Errorf("report: encode %s: %w", rep.ID, err)
	}
	return s.client.Set(ctx, s.prefix+rep.ID, data, s.ttl).Err()
}

// Load implements Store.Load.
func (s *RedisStore) Load(ctx context.Context, id string) (*harness.Report, error) {
	data, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var rep harness.Report
	if err := s.codec.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("report: decode %s: %w", id, err)
	}
	return &rep, nil
}

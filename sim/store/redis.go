package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// RedisStore publishes frames to Redis: the latest frame as a JSON string and the
// history as a capped list, so visualizers in other processes can poll either.
type RedisStore struct {
	client  *backend.Client
	prefix  string
	ttl     time.Duration
	history int
}

type Option func(*RedisStore)

// WithTTL sets the expiration of the latest frame and the history list.
func WithTTL(ttl time.Duration) Option {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithHistory caps the history list.
func WithHistory(n int) Option {
	return func(s *RedisStore) {
		if n > 0 {
			s.history = n
		}
	}
}

// NewRedisStore connects to a Redis server.
func NewRedisStore(address, password string, db int, opts ...Option) *RedisStore {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient wraps an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *RedisStore {
	s := &RedisStore{
		client:  client,
		prefix:  "puddle:",
		history: DefaultHistory,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) latestKey() string  { return s.prefix + "latest" }
func (s *RedisStore) historyKey() string { return s.prefix + "history" }

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Save(ctx context.Context, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.latestKey(), data, s.ttl)
	pipe.LPush(ctx, s.historyKey(), data)
	pipe.LTrim(ctx, s.historyKey(), 0, int64(s.history-1))
	if s.ttl > 0 {
		pipe.Expire(ctx, s.historyKey(), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Latest(ctx context.Context) (*Frame, error) {
	val, err := s.client.Get(ctx, s.latestKey()).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load from redis: %w", err)
	}
	var f Frame
	if err := json.Unmarshal([]byte(val), &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	return &f, nil
}

func (s *RedisStore) History(ctx context.Context, n int) ([]Frame, error) {
	if n <= 0 {
		return nil, nil
	}
	vals, err := s.client.LRange(ctx, s.historyKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	out := make([]Frame, 0, len(vals))
	for _, v := range vals {
		var f Frame
		if err := json.Unmarshal([]byte(v), &f); err != nil {
			return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const backendRedis = "redis"

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisStore keeps images as Redis strings that expire after TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	owner  bool
}

// NewRedisStore opens a connection and pings it.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store: ping %s: %w", opts.Address, err)
	}
	s := NewRedisStoreWithClient(client, opts.Prefix, opts.TTL)
	s.owner = true
	return s, nil
}

// NewRedisStoreWithClient wraps an existing client. Close leaves it open.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "ewaste:image:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(name string) string { return s.prefix + name }

// Put stores data, retrying transient failures.
func (s *RedisStore) Put(ctx context.Context, name string, data []byte) (err error) {
	start := time.Now()
	defer func() { observe(backendRedis, "put", start, err) }()
	if err = ValidateName(name); err != nil {
		return err
	}
	err = retryWrite(ctx, defaultRetryBase, defaultRetryAttempts, func(ctx context.Context) error {
		return s.client.Set(ctx, s.key(name), data, s.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis store put %s: %w", name, err)
	}
	return nil
}

// Get fetches data; expired or unknown keys yield ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, name string) (data []byte, err error) {
	start := time.Now()
	defer func() { observe(backendRedis, "get", start, err) }()
	if err = ValidateName(name); err != nil {
		return nil, err
	}
	data, err = s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("redis store get %s: %w", name, err)
	}
	return data, nil
}

// Close closes the connection if the store opened it.
func (s *RedisStore) Close() error {
	if !s.owner {
		return nil
	}
	return s.client.Close()
}

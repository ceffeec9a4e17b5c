package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/couchcryptid/marine-grid-etl/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces dataset keys in a shared Redis.
const DefaultRedisPrefix = "marine-grid:dataset:"

// Redis stores each dataset as a string value under prefix+key.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// OpenRedis connects using a redis:// URL and verifies the connection.
func OpenRedis(ctx context.Context, url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, DefaultRedisPrefix), nil
}

func (r *Redis) Save(ctx context.Context, key string, ds domain.Dataset) error {
	if err := checkKey(key); err != nil {
		return err
	}
	data, err := encode(ds)
	if err != nil {
		return fmt.Errorf("encode dataset %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Load(ctx context.Context, key string) (domain.Dataset, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return decode(key, data)
}

func (r *Redis) List(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	slices.Sort(keys)
	return keys, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

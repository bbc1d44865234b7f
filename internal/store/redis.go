package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements KV on a go-redis client.
type Redis struct {
	cmd redis.Cmdable
}

func NewRedis(cmd redis.Cmdable) *Redis {
	return &Redis{cmd: cmd}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.cmd.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.cmd.Set(ctx, key, value, ttl).Err()
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.cmd.SetNX(ctx, key, value, ttl).Result()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.cmd.Del(ctx, key).Err()
}

var _ KV = (*Redis)(nil)

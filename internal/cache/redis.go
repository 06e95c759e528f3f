package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/j5272000/campus-imaotai/internal/errs"
)

// Redis implements Cache on a go-redis client. Lists are stored as JSON
// blobs; replacing a list is a single SET, which keeps the
// invalidate-then-refetch pattern atomic enough for concurrent readers.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Open dials redis and verifies the connection.
func Open(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errs.Wrap(err, "redis ping")
	}
	return NewRedis(client), nil
}

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.Wrap(err, "redis get")
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return errs.Wrap(r.client.Set(ctx, key, value, ttl).Err(), "redis set")
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return errs.Wrap(r.client.Del(ctx, key).Err(), "redis del")
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return errs.Wrap(r.client.Expire(ctx, key, ttl).Err(), "redis expire")
}

func (r *Redis) GetList(ctx context.Context, key string, dest any) (bool, error) {
	v, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(v), dest); err != nil {
		return false, errs.Wrap(err, "decode cached list")
	}
	return true, nil
}

func (r *Redis) SetList(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return errs.Wrap(err, "encode cached list")
	}
	return r.Set(ctx, key, string(b), ttl)
}

package storage

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"github.com/brocaar/lorawan"
)

const deviceSessionKeyTempl = "lora:device:session:%s"

// RedisBackend implements a Redis Backend.
type RedisBackend struct {
	client redis.UniversalClient
}

// NewRedisBackend creates a new RedisBackend.
func NewRedisBackend(c redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: c}
}

// SaveDeviceSession implements Backend.
func (r *RedisBackend) SaveDeviceSession(ctx context.Context, b []byte, devEUI lorawan.EUI64) error {
	if err := r.client.Set(ctx, fmt.Sprintf(deviceSessionKeyTempl, devEUI), b, 0).Err(); err != nil {
		return errors.Wrap(err, "set error")
	}
	return nil
}

// GetDeviceSession implements Backend.
func (r *RedisBackend) GetDeviceSession(ctx context.Context, devEUI lorawan.EUI64) ([]byte, error) {
	b, err := r.client.Get(ctx, fmt.Sprintf(deviceSessionKeyTempl, devEUI)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrDoesNotExist
		}
		return nil, errors.Wrap(err, "get error")
	}
	return b, nil
}

// DeleteDeviceSession implements Backend.
func (r *RedisBackend) DeleteDeviceSession(ctx context.Context, devEUI lorawan.EUI64) error {
	val, err := r.client.Del(ctx, fmt.Sprintf(deviceSessionKeyTempl, devEUI)).Result()
	if err != nil {
		return errors.Wrap(err, "delete error")
	}
	if val == 0 {
		return ErrDoesNotExist
	}
	return nil
}

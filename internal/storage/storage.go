// Package storage persists the device-session across power cycles.
package storage

import (
	"context"
	"encoding/hex"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-lorawan-device/internal/config"
	"github.com/brocaar/lorawan"
)

// Backend defines the device-session storage backend.
type Backend interface {
	SaveDeviceSession(ctx context.Context, b []byte, devEUI lorawan.EUI64) error
	GetDeviceSession(ctx context.Context, devEUI lorawan.EUI64) ([]byte, error)
	DeleteDeviceSession(ctx context.Context, devEUI lorawan.EUI64) error
}

var (
	backend     Backend = NoneBackend{}
	redisClient redis.UniversalClient
	kek         []byte
)

// Setup configures the storage backend.
func Setup(c config.Config) error {
	log.Info("storage: setting up storage module")

	if err := SetKEK(c.Storage.KEK); err != nil {
		return err
	}

	switch c.Storage.Type {
	case "", "none":
		backend = NoneBackend{}
	case "file":
		backend = NewFileBackend(c.Storage.File.Path)
	case "redis":
		log.Info("storage: setting up Redis client")
		if len(c.Storage.Redis.Servers) == 0 {
			return errors.New("at least one redis server must be configured")
		}

		redisClient = redis.NewClient(&redis.Options{
			Addr:     c.Storage.Redis.Servers[0],
			DB:       c.Storage.Redis.Database,
			Password: c.Storage.Redis.Password,
			PoolSize: c.Storage.Redis.PoolSize,
		})
		backend = NewRedisBackend(redisClient)
	default:
		return errors.Wrapf(ErrUnknownType, "type %s", c.Storage.Type)
	}

	log.WithField("type", c.Storage.Type).Info("storage: storage backend configured")
	return nil
}

// SetKEK sets the hex encoded key-encryption key used for wrapping the
// session keys at rest. An empty string disables the key wrapping.
func SetKEK(s string) error {
	if s == "" {
		kek = nil
		return nil
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return errors.Wrap(ErrInvalidKEK, err.Error())
	}
	switch len(b) {
	case 16, 24, 32:
	default:
		return errors.Wrapf(ErrInvalidKEK, "kek of %d bytes", len(b))
	}
	kek = b
	return nil
}

// SetBackend sets the storage backend.
func SetBackend(b Backend) {
	backend = b
}

// RedisClient returns the Redis client (nil when not configured).
func RedisClient() redis.UniversalClient {
	return redisClient
}

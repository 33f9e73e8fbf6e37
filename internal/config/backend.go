package config

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/laundry-orders/internal/storage"
)

// RedisPrefix namespaces every collection key in Redis.
const RedisPrefix = "laundry:"

// OpenBackend connects the named storage backend. The returned close func is
// never nil.
func (c *Config) OpenBackend(ctx context.Context, kind string, logger *logrus.Logger) (storage.Backend, func() error, error) {
	noop := func() error { return nil }

	switch kind {
	case BackendMemory:
		return storage.NewMemory(), noop, nil
	case BackendFile:
		backend, err := storage.NewFile(c.DataDir)
		if err != nil {
			return nil, noop, err
		}
		return backend, noop, nil
	case BackendRedis:
		backend := storage.NewRedis(c.RedisAddr, c.RedisPassword, c.RedisDB, RedisPrefix)
		if err := backend.Ping(ctx); err != nil {
			backend.Close()
			return nil, noop, fmt.Errorf("redis not reachable: %w", err)
		}
		logger.WithField("addr", c.RedisAddr).Info("Connected to Redis")
		return backend, backend.Close, nil
	case BackendPostgres:
		backend, err := storage.OpenPostgres(ctx, c.Database, logger)
		if err != nil {
			return nil, noop, err
		}
		return backend, backend.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown storage backend %q", kind)
	}
}

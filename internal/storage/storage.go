package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/laundry-orders/internal/circuitbreaker"
)

// Collection keys.
const (
	UsersKey  = "users"
	OrdersKey = "orders"
)

var ErrPersistence = errors.New("persistence failure")

// Backend stores whole collections as opaque blobs. ReadAll returns nil, nil
// for a key that was never written.
type Backend interface {
	ReadAll(ctx context.Context, key string) ([]byte, error)
	WriteAll(ctx context.Context, key string, data []byte) error
}

// Load decodes a collection. A read error or corrupt data is logged and
// treated as an empty collection so that pure reads never fail.
func Load[T any](ctx context.Context, backend Backend, key string, logger *logrus.Logger) []T {
	data, err := backend.ReadAll(ctx, key)
	if err != nil {
		logger.WithError(err).WithField("collection", key).Error("Failed to read collection, using empty")
		return []T{}
	}
	return decode[T](data, key, logger)
}

// LoadForUpdate is Load for read-modify-write paths: a read error wraps
// ErrPersistence instead of yielding an empty collection, so the following
// Save can never replace stored data it failed to see.
func LoadForUpdate[T any](ctx context.Context, backend Backend, key string, logger *logrus.Logger) ([]T, error) {
	data, err := backend.ReadAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrPersistence, key, err)
	}
	return decode[T](data, key, logger), nil
}

func decode[T any](data []byte, key string, logger *logrus.Logger) []T {
	if len(data) == 0 {
		return []T{}
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		logger.WithError(err).WithField("collection", key).Error("Corrupt collection data, using empty")
		return []T{}
	}
	if items == nil {
		items = []T{}
	}
	return items
}

// Save encodes and overwrites a collection. Failures wrap ErrPersistence.
func Save[T any](ctx context.Context, backend Backend, key string, items []T) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrPersistence, key, err)
	}
	if err := backend.WriteAll(ctx, key, data); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrPersistence, key, err)
	}
	return nil
}

// Guarded routes every backend call through a circuit breaker.
type Guarded struct {
	backend Backend
	breaker *circuitbreaker.CircuitBreaker
}

func NewGuarded(backend Backend, breaker *circuitbreaker.CircuitBreaker) *Guarded {
	return &Guarded{backend: backend, breaker: breaker}
}

func (g *Guarded) ReadAll(ctx context.Context, key string) ([]byte, error) {
	result := make(chan []byte, 1)
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		data, err := g.backend.ReadAll(ctx, key)
		if err == nil {
			result <- data
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return <-result, nil
}

func (g *Guarded) WriteAll(ctx context.Context, key string, data []byte) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.backend.WriteAll(ctx, key, data)
	})
}

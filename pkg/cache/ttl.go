package cache

import (
	"context"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	gocache "github.com/eko/gocache/v3/cache"
	"github.com/eko/gocache/v3/store"
	"github.com/go-faster/errors"
)

var ErrNotFound = errors.New("key not found")

// TTLCache keeps values for a fixed expiration in a ristretto store.
type TTLCache[T any] struct {
	cache      *gocache.Cache[T]
	metricName string
}

func NewTTLCache[T any](maxItems int64, metricName string) (*TTLCache[T], error) {
	ristrettoCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        10 * maxItems,
		MaxCost:            maxItems,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	ristrettoStore := store.NewRistretto(ristrettoCache)
	return &TTLCache[T]{cache: gocache.New[T](ristrettoStore), metricName: metricName}, nil
}

func (c *TTLCache[T]) Set(ctx context.Context, key string, value T, expiration time.Duration) error {
	return c.cache.Set(ctx, key, value, store.WithCost(1), store.WithExpiration(expiration))
}

func (c *TTLCache[T]) Get(ctx context.Context, key string) (T, error) {
	value, err := c.cache.Get(ctx, key)
	if err != nil {
		var zero T
		if strings.Contains(err.Error(), "value not found") {
			cacheMetrics.WithLabelValues(c.metricName, "miss").Inc()
			return zero, ErrNotFound
		}
		return zero, err
	}
	cacheMetrics.WithLabelValues(c.metricName, "hit").Inc()
	return value, nil
}

func (c *TTLCache[T]) Delete(ctx context.Context, key string) error {
	return c.cache.Delete(ctx, key)
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLRUCache(t *testing.T) {
	c := NewLRUCache[string, int](2, "test")
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	_, ok := c.Get("a")
	require.False(t, ok)
	v, ok := c.Get("c")
	require.True(t, ok)
	require.Equal(t, 3, v)

	c.Delete("c")
	_, ok = c.Get("c")
	require.False(t, ok)
}

func TestTTLCache(t *testing.T) {
	c, err := NewTTLCache[string](100, "test_ttl")
	require.Nil(t, err)
	ctx := context.Background()

	_, err = c.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.Nil(t, c.Set(ctx, "config", "value", time.Minute))
	// ristretto applies writes asynchronously
	require.Eventually(t, func() bool {
		v, err := c.Get(ctx, "config")
		return err == nil && v == "value"
	}, time.Second, 10*time.Millisecond)
}

func TestTTLCache_SmallCapacity(t *testing.T) {
	tests := []struct {
		name     string
		maxItems int64
	}{
		{name: "single item", maxItems: 1},
		{name: "policy config size", maxItems: 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewTTLCache[string](tt.maxItems, "test_ttl_small")
			require.Nil(t, err)
			ctx := context.Background()
			require.Nil(t, c.Set(ctx, "config", "value", time.Minute))
			require.Eventually(t, func() bool {
				v, err := c.Get(ctx, "config")
				return err == nil && v == "value"
			}, time.Second, 10*time.Millisecond)
		})
	}
}

package cache_test

import (
	"testing"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/infra/cache"
	"github.com/boddenberg/pocket-ledger/internal/port"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ port.Cache[string, decimal.Decimal] = (*cache.InMemory[string, decimal.Decimal])(nil)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string, decimal.Decimal](5 * time.Minute)
	defer c.Close()

	c.Set("2024-03-11", decimal.RequireFromString("0.043739"))
	val, ok := c.Get("2024-03-11")
	require.True(t, ok)
	assert.Equal(t, "0.043739", val.String())
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string, int](5 * time.Minute)
	defer c.Close()

	_, ok := c.Get("nonexistent")
	assert.False(t, ok)
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string, string](50 * time.Millisecond)
	defer c.Close()

	c.Set("key1", "value1")
	time.Sleep(100 * time.Millisecond)

	_, ok := c.Get("key1")
	assert.False(t, ok, "expected cache entry to be expired")
}

func TestCache_SweeperRemovesExpired(t *testing.T) {
	c := cache.New[int, string](20 * time.Millisecond)
	defer c.Close()

	c.Set(1, "a")
	c.Set(2, "b")
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string, string](5 * time.Minute)
	defer c.Close()

	c.Set("key1", "value1")
	c.Delete("key1")

	_, ok := c.Get("key1")
	assert.False(t, ok)
}

func TestCache_CloseTwice(t *testing.T) {
	c := cache.New[string, string](time.Minute)
	assert.NotPanics(t, func() {
		c.Close()
		c.Close()
	})
	c.Set("k", "v")
	_, ok := c.Get("k")
	assert.True(t, ok)
}

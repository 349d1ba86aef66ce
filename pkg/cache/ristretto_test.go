package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T) *RistrettoCache {
	t.Helper()
	c, err := NewRistrettoCache(&RistrettoConfig{
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	rc, ok := c.(*RistrettoCache)
	require.True(t, ok)
	t.Cleanup(rc.Close)
	return rc
}

func TestSetAndGet(t *testing.T) {
	c := newTestCache(t)

	require.True(t, c.Set("k", "v", time.Minute))
	c.Wait()

	got, found := c.Get("k")
	require.True(t, found)
	assert.Equal(t, "v", got)
}

func TestGet_Missing(t *testing.T) {
	c := newTestCache(t)

	_, found := c.Get("absent")
	assert.False(t, found)
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t)

	require.True(t, c.Set("k", 1, 20*time.Millisecond))
	c.Wait()

	_, found := c.Get("k")
	require.True(t, found)

	time.Sleep(50 * time.Millisecond)
	_, found = c.Get("k")
	assert.False(t, found)
}

func TestDelete(t *testing.T) {
	c := newTestCache(t)

	require.True(t, c.Set("k", 1, time.Minute))
	c.Wait()
	c.Delete("k")

	_, found := c.Get("k")
	assert.False(t, found)
}

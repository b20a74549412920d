package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewClientFromRedis(rdb), mr
}

func TestAcquireLockIsExclusive(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	first, err := c.AcquireLock(ctx, "checkout:7", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := c.AcquireLock(ctx, "checkout:7", 30*time.Second)
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, c.ReleaseLock(ctx, first))

	third, err := c.AcquireLock(ctx, "checkout:7", 30*time.Second)
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestReleaseLockRequiresOwnership(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	lock, err := c.AcquireLock(ctx, "checkout:8", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	other, err := c.AcquireLock(ctx, "checkout:8", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, other)

	assert.ErrorIs(t, c.ReleaseLock(ctx, lock), ErrLockNotHeld)
	assert.True(t, mr.Exists("lock:checkout:8"))
}

func TestIdempotencyKeys(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	val, err := c.GetIdempotencyKey(ctx, "payment:pay_1")
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, c.SetIdempotencyKey(ctx, "payment:pay_1", "42", time.Hour))
	assert.True(t, mr.Exists("idempotency:payment:pay_1"))

	val, err = c.GetIdempotencyKey(ctx, "payment:pay_1")
	require.NoError(t, err)
	assert.Equal(t, "42", val)

	mr.FastForward(2 * time.Hour)
	val, err = c.GetIdempotencyKey(ctx, "payment:pay_1")
	require.NoError(t, err)
	assert.Empty(t, val)
}

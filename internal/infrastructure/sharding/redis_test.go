package sharding

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisRegistry_HeartbeatExpiry(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	registry := NewRedisRegistry(client)
	registry.now = func() time.Time { return now }

	a := Runner{ID: "a", Address: "http://a:8082"}
	b := Runner{ID: "b", Address: "http://b:8082"}
	require.NoError(t, registry.Register(ctx, a, 10*time.Second))
	require.NoError(t, registry.Register(ctx, b, 10*time.Second))

	live, err := registry.Live(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Runner{a, b}, live)

	now = now.Add(11 * time.Second)
	require.NoError(t, registry.Register(ctx, a, 10*time.Second))

	live, err = registry.Live(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Runner{a}, live)
	assert.Empty(t, mr.HGet(addressesKey, "b"), "expired runner address must be pruned")

	require.NoError(t, registry.Deregister(ctx, "a"))
	live, err = registry.Live(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestRedsyncLeases_Exclusive(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	a := NewRedsyncLeases(client, 10*time.Second)
	b := NewRedsyncLeases(client, 10*time.Second)

	require.NoError(t, a.Acquire(ctx, 7))
	require.NoError(t, a.Acquire(ctx, 7), "acquiring a held lease is a no-op")
	assert.ErrorIs(t, b.Acquire(ctx, 7), ErrLeaseUnavailable)

	require.NoError(t, a.Extend(ctx, 7))
	assert.ErrorIs(t, b.Extend(ctx, 7), ErrLeaseUnavailable)

	require.NoError(t, a.Release(ctx, 7))
	require.NoError(t, a.Release(ctx, 7))
	require.NoError(t, b.Acquire(ctx, 7))
}

func TestRedsyncLeases_ExpiredLeaseIsLost(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	a := NewRedsyncLeases(client, time.Second)
	b := NewRedsyncLeases(client, time.Second)

	require.NoError(t, a.Acquire(ctx, 3))
	mr.FastForward(2 * time.Second)

	require.NoError(t, b.Acquire(ctx, 3))
	assert.ErrorIs(t, a.Extend(ctx, 3), ErrLeaseUnavailable)
	// The failed extension forgot the lease, so a must contend again.
	assert.ErrorIs(t, a.Acquire(ctx, 3), ErrLeaseUnavailable)
}

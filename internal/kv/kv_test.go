package kv

import (
    "context"
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    "github.com/go-redis/redis/v8"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/hamzaKhattat/contact-center-api/pkg/errors"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
    t.Helper()

    mr := miniredis.RunT(t)
    client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    store := NewWithClient(client, "test")
    t.Cleanup(func() { store.Close() })

    return store, mr
}

func TestSetGetDelete(t *testing.T) {
    store, _ := newTestStore(t)
    ctx := context.Background()

    require.NoError(t, store.SetWithTTL(ctx, "k", "v", time.Minute))

    val, err := store.GetString(ctx, "k")
    require.NoError(t, err)
    assert.Equal(t, "v", val)

    exists, err := store.Exists(ctx, "k")
    require.NoError(t, err)
    assert.True(t, exists)

    require.NoError(t, store.Delete(ctx, "k"))

    val, err = store.GetString(ctx, "k")
    require.NoError(t, err)
    assert.Empty(t, val, "missing key reads as empty string")
}

func TestIncrementWithTTL(t *testing.T) {
    store, mr := newTestStore(t)
    ctx := context.Background()

    for want := int64(1); want <= 3; want++ {
        got, err := store.IncrementWithTTL(ctx, "counter", time.Hour)
        require.NoError(t, err)
        assert.Equal(t, want, got)
    }

    ttl, err := store.TTL(ctx, "counter")
    require.NoError(t, err)
    assert.Greater(t, ttl, time.Duration(0))

    // Counter expires with its TTL
    mr.FastForward(2 * time.Hour)
    got, err := store.IncrementWithTTL(ctx, "counter", time.Hour)
    require.NoError(t, err)
    assert.Equal(t, int64(1), got)
}

func TestAcquireLeaseExcludesSecondHolder(t *testing.T) {
    store, _ := newTestStore(t)
    ctx := context.Background()

    lease, err := store.AcquireLease(ctx, "call:channel:abc", time.Minute, 100*time.Millisecond)
    require.NoError(t, err)

    _, err = store.AcquireLease(ctx, "call:channel:abc", time.Minute, 150*time.Millisecond)
    require.Error(t, err)
    appErr, ok := err.(*errors.AppError)
    require.True(t, ok)
    assert.Equal(t, errors.ErrLockTimeout, appErr.Code)

    lease.Release(ctx)

    lease2, err := store.AcquireLease(ctx, "call:channel:abc", time.Minute, 100*time.Millisecond)
    require.NoError(t, err)
    lease2.Release(ctx)
}

func TestLeaseExpiresForCrashedHolder(t *testing.T) {
    store, mr := newTestStore(t)
    ctx := context.Background()

    _, err := store.AcquireLease(ctx, "call:channel:dead", time.Second, 50*time.Millisecond)
    require.NoError(t, err)

    // Holder never releases; TTL frees the lease
    mr.FastForward(2 * time.Second)

    lease, err := store.AcquireLease(ctx, "call:channel:dead", time.Second, 50*time.Millisecond)
    require.NoError(t, err)
    lease.Release(ctx)
}

func TestLeaseReleaseOnlyByHolder(t *testing.T) {
    store, mr := newTestStore(t)
    ctx := context.Background()

    lease, err := store.AcquireLease(ctx, "call:channel:x", time.Second, 50*time.Millisecond)
    require.NoError(t, err)

    // Lease expires and a successor takes it
    mr.FastForward(2 * time.Second)
    successor, err := store.AcquireLease(ctx, "call:channel:x", time.Minute, 50*time.Millisecond)
    require.NoError(t, err)

    // The stale holder's release must not free the successor's lease
    lease.Release(ctx)
    _, err = store.AcquireLease(ctx, "call:channel:x", time.Minute, 100*time.Millisecond)
    assert.Error(t, err, "successor still holds the lease")

    successor.Release(ctx)
}

func TestSlidingWindowAdmit(t *testing.T) {
    store, _ := newTestStore(t)
    ctx := context.Background()

    limit := 5
    for i := 0; i < limit; i++ {
        allowed, _ := store.SlidingWindowAdmit(ctx, "ratelimit:token:client", limit, time.Minute)
        assert.True(t, allowed, "request %d within the limit", i+1)
    }

    allowed, remaining := store.SlidingWindowAdmit(ctx, "ratelimit:token:client", limit, time.Minute)
    assert.False(t, allowed, "request over the limit is rejected")
    assert.Equal(t, 0, remaining)
}

func TestSlidingWindowRecoversAfterWindow(t *testing.T) {
    store, mr := newTestStore(t)
    ctx := context.Background()

    limit := 2
    for i := 0; i < limit+1; i++ {
        store.SlidingWindowAdmit(ctx, "ratelimit:o:c", limit, time.Minute)
    }
    allowed, _ := store.SlidingWindowAdmit(ctx, "ratelimit:o:c", limit, time.Minute)
    require.False(t, allowed)

    mr.FastForward(2 * time.Minute)

    allowed, _ = store.SlidingWindowAdmit(ctx, "ratelimit:o:c", limit, time.Minute)
    assert.True(t, allowed, "window has passed")
}

func TestSlidingWindowFailsOpen(t *testing.T) {
    mr := miniredis.RunT(t)
    client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    store := NewWithClient(client, "test")
    mr.Close()

    allowed, remaining := store.SlidingWindowAdmit(context.Background(), "ratelimit:x", 5, time.Minute)
    assert.True(t, allowed, "unreachable store admits")
    assert.Equal(t, 5, remaining)
}

package gate

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"octopus-controlplane/pkg/rediskey"
	"octopus-controlplane/services/testutil"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func backends(t *testing.T) map[string]Gate {
	t.Helper()

	out := map[string]Gate{
		"memory":   NewMemoryGate(),
		"database": NewDBGate(testutil.NewTestDB(t, &Firing{})),
	}
	if addr := os.Getenv("OCTOPUS_TEST_REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { _ = rdb.Close() })
		out["redis"] = NewRedisGate(rdb)
	}
	return out
}

func TestGate_IntervalOf600Seconds(t *testing.T) {
	for name, g := range backends(t) {
		ctx := context.Background()
		task := "task-600-" + name
		interval := 600 * time.Second

		ok, err := g.ShouldFire(ctx, task, "c1", interval, t0)
		require.NoError(t, err, name)
		require.True(t, ok, "%s: first firing", name)
		require.NoError(t, g.RecordFire(ctx, task, "c1", interval, t0), name)

		ok, err = g.ShouldFire(ctx, task, "c1", interval, t0.Add(599*time.Second))
		require.NoError(t, err, name)
		require.False(t, ok, "%s: t0+599s", name)

		ok, err = g.ShouldFire(ctx, task, "c1", interval, t0.Add(600*time.Second))
		require.NoError(t, err, name)
		require.True(t, ok, "%s: t0+600s", name)

		ok, err = g.ShouldFire(ctx, task, "c2", interval, t0.Add(time.Second))
		require.NoError(t, err, name)
		require.True(t, ok, "%s: other client is independent", name)
	}
}

func TestGate_AcquireRecurringTenSeconds(t *testing.T) {
	for name, g := range backends(t) {
		ctx := context.Background()
		task := "task-10-" + name
		interval := 10 * time.Second

		ok, err := g.Acquire(ctx, task, "c1", interval, t0)
		require.NoError(t, err, name)
		require.True(t, ok, "%s: t=0", name)

		ok, err = g.Acquire(ctx, task, "c1", interval, t0.Add(5*time.Second))
		require.NoError(t, err, name)
		require.False(t, ok, "%s: t=5", name)

		ok, err = g.Acquire(ctx, task, "c1", interval, t0.Add(11*time.Second))
		require.NoError(t, err, name)
		require.True(t, ok, "%s: t=11", name)

		ok, err = g.Acquire(ctx, task, "c1", interval, t0.Add(15*time.Second))
		require.NoError(t, err, name)
		require.False(t, ok, "%s: t=15 measured from the t=11 firing", name)
	}
}

func TestGate_AcquireConcurrentSingleWinner(t *testing.T) {
	for name, g := range backends(t) {
		var (
			wins atomic.Int32
			wg   sync.WaitGroup
		)
		task := "task-race-" + name
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := g.Acquire(context.Background(), task, "c1", time.Minute, t0)
				if err == nil && ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		require.EqualValues(t, 1, wins.Load(), name)
	}
}

func TestMemoryGate_Forget(t *testing.T) {
	g := NewMemoryGate()
	ctx := context.Background()
	require.NoError(t, g.RecordFire(ctx, "t1", "c1", time.Hour, t0))

	g.Forget("t1")
	ok, err := g.ShouldFire(ctx, "t1", "c1", time.Hour, t0)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRetention_CoversLongIntervals(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		time.Second:         time.Minute,
		10 * time.Minute:    20 * time.Minute,
		30 * 24 * time.Hour: 60 * 24 * time.Hour,
	}
	for interval, want := range cases {
		require.Equal(t, want, retention(interval), interval.String())
	}
}

func TestRedisGate_RecordFireOutlivesInterval(t *testing.T) {
	addr := os.Getenv("OCTOPUS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("OCTOPUS_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	interval := 10 * 24 * time.Hour
	g := NewRedisGate(rdb)
	require.NoError(t, g.RecordFire(ctx, "task-long", "c1", interval, t0))

	ttl, err := rdb.TTL(ctx, rediskey.BuildIntervalGateKey("task-long", "c1")).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, interval)
}

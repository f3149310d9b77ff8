package gate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"octopus-controlplane/pkg/rediskey"

	"github.com/redis/go-redis/v9"
)

var acquireScript = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
if last and (tonumber(ARGV[1]) - tonumber(last)) < tonumber(ARGV[2]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// RedisGate shares firings between coordinator replicas through Redis.
type RedisGate struct {
	rdb redis.Cmdable
}

func NewRedisGate(rdb redis.Cmdable) *RedisGate {
	return &RedisGate{rdb: rdb}
}

func (g *RedisGate) ShouldFire(ctx context.Context, taskID, clientID string, interval time.Duration, now time.Time) (bool, error) {
	raw, err := g.rdb.Get(ctx, rediskey.BuildIntervalGateKey(taskID, clientID)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read interval gate: %w", err)
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return true, nil
	}
	return due(time.UnixMilli(ms), now, interval), nil
}

func (g *RedisGate) RecordFire(ctx context.Context, taskID, clientID string, interval time.Duration, now time.Time) error {
	key := rediskey.BuildIntervalGateKey(taskID, clientID)
	if err := g.rdb.Set(ctx, key, now.UnixMilli(), retention(interval)).Err(); err != nil {
		return fmt.Errorf("record interval gate: %w", err)
	}
	return nil
}

func (g *RedisGate) Acquire(ctx context.Context, taskID, clientID string, interval time.Duration, now time.Time) (bool, error) {
	key := rediskey.BuildIntervalGateKey(taskID, clientID)
	won, err := acquireScript.Run(ctx, g.rdb, []string{key}, now.UnixMilli(), interval.Milliseconds(), retention(interval).Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire interval gate: %w", err)
	}
	return won == 1, nil
}

// retention keeps a firing for two intervals so the key outlives the window
// in which it gates, with a one minute floor.
func retention(interval time.Duration) time.Duration {
	ttl := 2 * interval
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

package adapter

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/pkg/redis"
	"storefront/internal/service/order/domain/port"
)

const (
	releaseIdempotencyScriptName = "release_idempotency_key"
	// pendingMarker 表示该幂等键对应的请求仍在处理中
	pendingMarker = "__pending__"
)

// IdempotencyRedisAdapter 是 port.IdempotencyStore 的 Redis 实现。
// 每个幂等键对应一个 Redis key，处理中时值为 pendingMarker，成功后替换为处理结果。
type IdempotencyRedisAdapter struct {
	redisClient *redis.Client
	ttl         time.Duration
}

var _ port.IdempotencyStore = (*IdempotencyRedisAdapter)(nil)

// NewIdempotencyRedisAdapter 创建适配器并加载释放幂等键用的 Lua 脚本
func NewIdempotencyRedisAdapter(redisClient *redis.Client, ttl time.Duration) (*IdempotencyRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(releaseIdempotencyScriptName, releaseIdempotencyScript); err != nil {
		return nil, fmt.Errorf("failed to load idempotency script: %w", err)
	}
	return &IdempotencyRedisAdapter{redisClient: redisClient, ttl: ttl}, nil
}

func idempotencyKey(scope, key string) string {
	return fmt.Sprintf("idempotency:{%s}:%s", scope, key)
}

func (a *IdempotencyRedisAdapter) TryLock(ctx context.Context, scope, key string) (bool, error) {
	ok, err := a.redisClient.GetClient().SetNX(ctx, idempotencyKey(scope, key), pendingMarker, a.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to lock idempotency key: %w", err)
	}
	return ok, nil
}

func (a *IdempotencyRedisAdapter) Remember(ctx context.Context, scope, key, value string) error {
	if err := a.redisClient.GetClient().Set(ctx, idempotencyKey(scope, key), value, a.ttl).Err(); err != nil {
		return fmt.Errorf("failed to remember idempotency result: %w", err)
	}
	return nil
}

// Recall 返回已记录的处理结果，键不存在或仍在处理中时 found 为 false
func (a *IdempotencyRedisAdapter) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	val, err := a.redisClient.GetClient().Get(ctx, idempotencyKey(scope, key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to recall idempotency result: %w", err)
	}
	if val == pendingMarker {
		return "", false, nil
	}
	return val, true, nil
}

// Unlock 只删除仍处于处理中的键，已记录的结果不会被误删
func (a *IdempotencyRedisAdapter) Unlock(ctx context.Context, scope, key string) error {
	_, err := a.redisClient.RunScript(ctx, releaseIdempotencyScriptName, []string{idempotencyKey(scope, key)}, pendingMarker)
	if err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

var releaseIdempotencyScript = `
-- KEYS[1]: 幂等键, 例如: idempotency:{place_order:42}:abc
-- ARGV[1]: 处理中标记

if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`

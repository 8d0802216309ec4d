package port

import "context"

// IdempotencyStore 保证同一个幂等键只会真正下单一次
type IdempotencyStore interface {
	// TryLock 抢占幂等键，返回 false 表示该键已被占用
	TryLock(ctx context.Context, scope, key string) (bool, error)
	// Remember 记录幂等键对应的处理结果
	Remember(ctx context.Context, scope, key, value string) error
	// Recall 读取之前记录的结果
	Recall(ctx context.Context, scope, key string) (string, bool, error)
	// Unlock 处理失败时释放幂等键，以便客户端重试
	Unlock(ctx context.Context, scope, key string) error
}

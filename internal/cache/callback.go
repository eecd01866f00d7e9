package cache

import (
	"context"
	"time"

	"Outcall/storage/redis"
)

// 回调去重标记：同一个供应商 call id 的 end-of-call-report 只入队一次。
// 结果处理本身是幂等的，这里只是挡掉明显的重复投递。
const (
	callbackPrefix = "callback"
	callbackTTL    = 24 * time.Hour
)

// MarkCallbackSeen 标记回调已入队，返回 false 表示之前已经见过
func MarkCallbackSeen(ctx context.Context, callID string) (bool, error) {
	fullkey := redis.Key(callbackPrefix, callID)

	return redis.Client().SetNX(ctx, fullkey, 1, callbackTTL).Result()
}

// UnmarkCallbackSeen 入队失败时回滚标记，让供应商的重投能再进来
func UnmarkCallbackSeen(ctx context.Context, callID string) error {
	fullkey := redis.Key(callbackPrefix, callID)

	return redis.Client().Del(ctx, fullkey).Err()
}

package cache

import (
	"context"
	"fmt"
	"time"

	"Outcall/storage/redis"
)

// 活动锁的本进程/本集群快路径：数据库锁行才是正式的互斥，
// 这里的 SetNX 只是省掉同一个 TTL 窗口内的重复读库
const (
	lockPrefix = "lease"
)

// TryCampaignLease 尝试拿活动租约，拿不到说明刚有人处理过
func TryCampaignLease(ctx context.Context, campaignID int64, ttl time.Duration) (bool, error) {
	fullkey := redis.Key(lockPrefix, fmt.Sprintf("campaign:%d", campaignID))

	result, err := redis.Client().SetNX(ctx, fullkey, 1, ttl).Result()
	if err != nil {
		return false, err
	}

	return result, nil
}

// ReleaseCampaignLease 主动释放租约（仅测试和停机用，正常流程靠 TTL 过期）
func ReleaseCampaignLease(ctx context.Context, campaignID int64) error {
	fullkey := redis.Key(lockPrefix, fmt.Sprintf("campaign:%d", campaignID))

	return redis.Client().Del(ctx, fullkey).Err()
}

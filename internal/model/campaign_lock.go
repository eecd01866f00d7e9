package model

import (
	"time"
)

// CampaignLock 活动处理锁，带过期时间的数据库行
// 不做显式释放，靠 expires_at 过期兜底进程崩溃
type CampaignLock struct {
	CampaignID int64     `gorm:"primaryKey" json:"campaign_id"`
	LockedAt   time.Time `gorm:"type:timestamptz;not null" json:"locked_at"`
	ExpiresAt  time.Time `gorm:"type:timestamptz;not null;index:idx_campaign_locks_expiry" json:"expires_at"`
}

// TableName 指定表名
func (CampaignLock) TableName() string {
	return "campaign_locks"
}

// Held 锁在 now 时刻是否仍然有效
func (l *CampaignLock) Held(now time.Time) bool {
	return l.ExpiresAt.After(now)
}

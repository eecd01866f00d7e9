package model

import (
	"time"
)

// CallQueueStatus 呼叫队列条目状态枚举
type CallQueueStatus string

const (
	CallQueueStatusPending   CallQueueStatus = "pending"   // 待拨打
	CallQueueStatusCalling   CallQueueStatus = "calling"   // 已交给供应商，等回调
	CallQueueStatusCompleted CallQueueStatus = "completed" // 终态：拿到结果
	CallQueueStatusFailed    CallQueueStatus = "failed"    // 终态：拨打失败，可能派生 attempt+1
)

// CallQueueEntry 呼叫队列条目，一行代表对一个联系人的一次尝试
// (campaign_id, contact_id, attempt) 唯一，重试入队靠这个索引做幂等
type CallQueueEntry struct {
	BaseModel
	CampaignID    int64           `gorm:"not null;index:idx_call_queue_campaign;uniqueIndex:uq_call_queue_attempt" json:"campaign_id"`
	ContactID     int64           `gorm:"not null;uniqueIndex:uq_call_queue_attempt" json:"contact_id"`
	PhoneNumber   string          `gorm:"type:varchar(32);not null;index:idx_call_queue_phone" json:"phone_number"`
	ContactName   string          `gorm:"type:varchar(255)" json:"contact_name"`
	Attempt       int             `gorm:"type:smallint;not null;default:1;uniqueIndex:uq_call_queue_attempt" json:"attempt"`
	ScheduledFor  time.Time       `gorm:"type:timestamptz;not null;index:idx_call_queue_due" json:"scheduled_for"`
	Status        CallQueueStatus `gorm:"type:varchar(16);not null;default:'pending';index:idx_call_queue_due" json:"status"`
	LastCallID    *string         `gorm:"type:varchar(64);index:idx_call_queue_call_id" json:"last_call_id,omitempty"`
	LastAttemptAt *time.Time      `gorm:"type:timestamptz" json:"last_attempt_at,omitempty"`
	LastOutcome   *CallOutcome    `gorm:"type:varchar(32)" json:"last_outcome,omitempty"`
}

// TableName 指定表名
func (CallQueueEntry) TableName() string {
	return "call_queue"
}

// Terminal 条目是否处于终态
func (e *CallQueueEntry) Terminal() bool {
	return e.Status == CallQueueStatusCompleted || e.Status == CallQueueStatusFailed
}

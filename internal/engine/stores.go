package engine

import (
	"context"
	"time"

	"Outcall/internal/model"
	"Outcall/pkg/vapi"
)

// Store 是执行引擎对持久层的全部依赖。
// gorm 实现见 internal/repository；测试用内存实现。
type Store interface {
	// 活动
	SchedulableCampaigns(ctx context.Context) ([]*model.Campaign, error) // active/scheduled，按创建时间升序
	CampaignByID(ctx context.Context, id int64) (*model.Campaign, error)
	SetCampaignStatus(ctx context.Context, id int64, status model.CampaignStatus, at time.Time) error
	OrganizationByID(ctx context.Context, id int64) (*model.Organization, error)

	// 活动锁：存在未过期的锁行则返回 false，否则插入/刷新锁行并返回 true
	AcquireCampaignLock(ctx context.Context, campaignID int64, now time.Time, ttl time.Duration) (bool, error)

	// 呼叫队列
	DueQueueEntries(ctx context.Context, campaignID int64, now time.Time, limit int) ([]*model.CallQueueEntry, error)
	CountPendingEntries(ctx context.Context, campaignID int64) (int64, error)
	// HasRecentDial 同联系人或同号码在窗口期内是否已有在途拨打
	HasRecentDial(ctx context.Context, contactID int64, phone string, since time.Time) (bool, error)
	MarkEntryCalling(ctx context.Context, entryID int64) error
	MarkEntryDispatched(ctx context.Context, entryID int64, callID string, at time.Time) error
	MarkEntryFailed(ctx context.Context, entryID int64, outcome model.CallOutcome) error
	CompleteEntry(ctx context.Context, entryID int64, outcome model.CallOutcome) error
	// InsertQueueEntries 批量插入，(campaign_id, contact_id, attempt) 冲突时跳过，返回实际插入行数
	InsertQueueEntries(ctx context.Context, entries []*model.CallQueueEntry) (int64, error)
	// EntryByCallID 按供应商 call id 查条目，找不到返回 (nil, nil)
	EntryByCallID(ctx context.Context, vapiCallID string) (*model.CallQueueEntry, error)
	StaleCallingEntries(ctx context.Context, olderThan time.Time) ([]*model.CallQueueEntry, error)

	// 通话记录
	CountCallsSince(ctx context.Context, campaignID int64, since time.Time) (int64, error)
	// RecordDispatchedCall 下发时插入初始记录，vapi_call_id 冲突时不覆盖（回调可能先到）
	RecordDispatchedCall(ctx context.Context, call *model.Call) error
	// UpsertCall 结果侧按 vapi_call_id 幂等合并写入
	UpsertCall(ctx context.Context, call *model.Call) error
	// CallByVapiID 找不到返回 (nil, nil)
	CallByVapiID(ctx context.Context, vapiCallID string) (*model.Call, error)
	StaleCalls(ctx context.Context, olderThan time.Time) ([]*model.Call, error)
	ResolveCall(ctx context.Context, id int64, status model.CallStatus, outcome model.CallOutcome) error
}

// VoiceCaller 外呼供应商的下发边界
type VoiceCaller interface {
	CreateCall(ctx context.Context, creds vapi.Credentials, req vapi.CallRequest) (*vapi.Call, error)
}

// CredentialResolver 组织凭证解析边界，found=false 表示组织没配凭证
type CredentialResolver interface {
	Resolve(ctx context.Context, orgID int64) (bool, vapi.Credentials, error)
}

// LeaseFunc 活动租约的本地快路径，可选；返回 false 表示本窗口内已有人处理
type LeaseFunc func(ctx context.Context, campaignID int64, ttl time.Duration) (bool, error)

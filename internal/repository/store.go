package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"Outcall/internal/model"
)

// GormStore 执行引擎持久层的 Postgres 实现
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 构造 Postgres 存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// nonTerminalCallStatuses 供应商侧还没结束的状态
var nonTerminalCallStatuses = []model.CallStatus{
	model.CallStatusQueued,
	model.CallStatusRinging,
	model.CallStatusInProgress,
}

// SchedulableCampaigns 取所有 active/scheduled 的活动，按创建时间升序
func (s *GormStore) SchedulableCampaigns(ctx context.Context) ([]*model.Campaign, error) {
	var campaigns []*model.Campaign
	err := s.db.WithContext(ctx).
		Where("status IN ?", []model.CampaignStatus{model.CampaignStatusActive, model.CampaignStatusScheduled}).
		Order("created_at ASC").
		Find(&campaigns).Error
	return campaigns, err
}

func (s *GormStore) CampaignByID(ctx context.Context, id int64) (*model.Campaign, error) {
	var c model.Campaign
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// SetCampaignStatus 更新活动状态，激活/完成时一并落时间戳
func (s *GormStore) SetCampaignStatus(ctx context.Context, id int64, status model.CampaignStatus, at time.Time) error {
	updates := map[string]interface{}{"status": status}
	switch status {
	case model.CampaignStatusActive:
		// 恢复暂停的活动时保留最初的启动时间
		updates["started_at"] = gorm.Expr("COALESCE(started_at, ?)", at)
	case model.CampaignStatusCompleted:
		updates["completed_at"] = at
	}
	return s.db.WithContext(ctx).
		Model(&model.Campaign{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (s *GormStore) OrganizationByID(ctx context.Context, id int64) (*model.Organization, error) {
	var org model.Organization
	if err := s.db.WithContext(ctx).First(&org, id).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

// AcquireCampaignLock 抢活动锁：插入锁行，已存在且未过期时抢占失败
// ON CONFLICT ... DO UPDATE ... WHERE expires_at < now 保证过期锁可以被接管
func (s *GormStore) AcquireCampaignLock(ctx context.Context, campaignID int64, now time.Time, ttl time.Duration) (bool, error) {
	lock := model.CampaignLock{
		CampaignID: campaignID,
		LockedAt:   now,
		ExpiresAt:  now.Add(ttl),
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "campaign_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"locked_at":  now,
			"expires_at": now.Add(ttl),
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Lt{Column: clause.Column{Table: "campaign_locks", Name: "expires_at"}, Value: now},
		}},
	}).Create(&lock)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DueQueueEntries 取到期的待拨条目，按计划时间升序
func (s *GormStore) DueQueueEntries(ctx context.Context, campaignID int64, now time.Time, limit int) ([]*model.CallQueueEntry, error) {
	var entries []*model.CallQueueEntry
	err := s.db.WithContext(ctx).
		Where("campaign_id = ? AND status = ? AND scheduled_for <= ?",
			campaignID, model.CallQueueStatusPending, now).
		Order("scheduled_for ASC, id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// CountPendingEntries 统计活动的全部待拨条目，含排在未来的重试
func (s *GormStore) CountPendingEntries(ctx context.Context, campaignID int64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&model.CallQueueEntry{}).
		Where("campaign_id = ? AND status = ?", campaignID, model.CallQueueStatusPending).
		Count(&n).Error
	return n, err
}

// HasRecentDial 同联系人或同号码在窗口期内是否已有在途拨打
func (s *GormStore) HasRecentDial(ctx context.Context, contactID int64, phone string, since time.Time) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&model.CallQueueEntry{}).
		Where("(contact_id = ? OR phone_number = ?) AND status = ? AND updated_at >= ?",
			contactID, phone, model.CallQueueStatusCalling, since).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	err = s.db.WithContext(ctx).
		Model(&model.Call{}).
		Where("phone_number = ? AND status IN ? AND created_at >= ?",
			phone, nonTerminalCallStatuses, since).
		Count(&n).Error
	return n > 0, err
}

// MarkEntryCalling 条目 pending → calling，状态守卫防止重复下发
func (s *GormStore) MarkEntryCalling(ctx context.Context, entryID int64) error {
	res := s.db.WithContext(ctx).
		Model(&model.CallQueueEntry{}).
		Where("id = ? AND status = ?", entryID, model.CallQueueStatusPending).
		Update("status", model.CallQueueStatusCalling)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *GormStore) MarkEntryDispatched(ctx context.Context, entryID int64, callID string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&model.CallQueueEntry{}).
		Where("id = ?", entryID).
		Updates(map[string]interface{}{
			"last_call_id":    callID,
			"last_attempt_at": at,
		}).Error
}

func (s *GormStore) MarkEntryFailed(ctx context.Context, entryID int64, outcome model.CallOutcome) error {
	return s.db.WithContext(ctx).
		Model(&model.CallQueueEntry{}).
		Where("id = ?", entryID).
		Updates(map[string]interface{}{
			"status":       model.CallQueueStatusFailed,
			"last_outcome": outcome,
		}).Error
}

func (s *GormStore) CompleteEntry(ctx context.Context, entryID int64, outcome model.CallOutcome) error {
	return s.db.WithContext(ctx).
		Model(&model.CallQueueEntry{}).
		Where("id = ?", entryID).
		Updates(map[string]interface{}{
			"status":       model.CallQueueStatusCompleted,
			"last_outcome": outcome,
		}).Error
}

// InsertQueueEntries 批量入队，(campaign_id, contact_id, attempt) 冲突时跳过
func (s *GormStore) InsertQueueEntries(ctx context.Context, entries []*model.CallQueueEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "campaign_id"}, {Name: "contact_id"}, {Name: "attempt"},
		},
		DoNothing: true,
	}).Create(&entries)
	return res.RowsAffected, res.Error
}

// EntryByCallID 按供应商 call id 查条目，找不到返回 (nil, nil)
func (s *GormStore) EntryByCallID(ctx context.Context, vapiCallID string) (*model.CallQueueEntry, error) {
	var entry model.CallQueueEntry
	err := s.db.WithContext(ctx).
		Where("last_call_id = ?", vapiCallID).
		Order("attempt DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *GormStore) StaleCallingEntries(ctx context.Context, olderThan time.Time) ([]*model.CallQueueEntry, error) {
	var entries []*model.CallQueueEntry
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.CallQueueStatusCalling, olderThan).
		Find(&entries).Error
	return entries, err
}

// CountCallsSince 统计某时刻以来的下发量，作为每日预算的依据
func (s *GormStore) CountCallsSince(ctx context.Context, campaignID int64, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&model.Call{}).
		Where("campaign_id = ? AND started_at >= ?", campaignID, since).
		Count(&n).Error
	return n, err
}

// RecordDispatchedCall 下发时落初始记录；回调先到过的话这里什么都不覆盖
func (s *GormStore) RecordDispatchedCall(ctx context.Context, call *model.Call) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "vapi_call_id"}},
		DoNothing: true,
	}).Create(call).Error
}

// UpsertCall 结果侧的幂等写入，按 vapi_call_id 合并
// 回调没带时间戳时保留下发时落的 started_at，否则每日预算会少算
func (s *GormStore) UpsertCall(ctx context.Context, call *model.Call) error {
	assignments := clause.AssignmentColumns([]string{
		"status", "outcome", "end_reason", "duration_secs", "cost",
		"transcript", "recording_url",
		"contact_name", "phone_number", "updated_at",
	})
	assignments = append(assignments,
		clause.Assignment{
			Column: clause.Column{Name: "started_at"},
			Value:  gorm.Expr("COALESCE(excluded.started_at, calls.started_at)"),
		},
		clause.Assignment{
			Column: clause.Column{Name: "ended_at"},
			Value:  gorm.Expr("COALESCE(excluded.ended_at, calls.ended_at)"),
		},
	)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "vapi_call_id"}},
		DoUpdates: assignments,
	}).Create(call).Error
}

// CallByVapiID 按供应商 call id 查记录，找不到返回 (nil, nil)
func (s *GormStore) CallByVapiID(ctx context.Context, vapiCallID string) (*model.Call, error) {
	var call model.Call
	err := s.db.WithContext(ctx).
		Where("vapi_call_id = ?", vapiCallID).
		First(&call).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &call, nil
}

func (s *GormStore) StaleCalls(ctx context.Context, olderThan time.Time) ([]*model.Call, error) {
	var calls []*model.Call
	err := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", nonTerminalCallStatuses, olderThan).
		Find(&calls).Error
	return calls, err
}

// ResolveCall 看门狗兜底：只允许非终态记录被改写
func (s *GormStore) ResolveCall(ctx context.Context, id int64, status model.CallStatus, outcome model.CallOutcome) error {
	return s.db.WithContext(ctx).
		Model(&model.Call{}).
		Where("id = ? AND status IN ?", id, nonTerminalCallStatuses).
		Updates(map[string]interface{}{
			"status":  status,
			"outcome": outcome,
		}).Error
}

package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"Outcall/internal/engine"
	"Outcall/internal/model"
	apperrors "Outcall/pkg/errors"
)

// StartContact 启动活动时带入的联系人
type StartContact struct {
	ContactID   int64  `json:"contact_id"`
	PhoneNumber string `json:"phone_number"`
	Name        string `json:"name,omitempty"`
}

// CampaignService 活动生命周期控制：启动入队、暂停、恢复
// 活动的增删改在外部管理端，这里只动 status
type CampaignService struct {
	logger *zap.Logger
	store  engine.Store
	now    func() time.Time
}

// NewCampaignService 构造活动控制服务
func NewCampaignService(log *zap.Logger, store engine.Store) *CampaignService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CampaignService{logger: log, store: store, now: time.Now}
}

// Start 启动活动：联系人批量入队（attempt=1），活动转 active；
// scheduled_start 在未来则转 scheduled，由引擎到点激活
func (s *CampaignService) Start(ctx context.Context, campaignID int64, contacts []StartContact) (int64, error) {
	if len(contacts) == 0 {
		return 0, apperrors.ContactListEmpty
	}

	c, err := s.store.CampaignByID(ctx, campaignID)
	if err != nil {
		return 0, apperrors.CampaignNotFound
	}
	if c.Status != model.CampaignStatusDraft && c.Status != model.CampaignStatusScheduled {
		return 0, apperrors.CampaignNotStartable
	}

	now := s.now()
	entries := make([]*model.CallQueueEntry, 0, len(contacts))
	for _, contact := range contacts {
		if contact.PhoneNumber == "" {
			s.logger.Warn("Contact without phone number skipped",
				zap.Int64("campaign_id", campaignID),
				zap.Int64("contact_id", contact.ContactID))
			continue
		}
		entries = append(entries, &model.CallQueueEntry{
			CampaignID:   campaignID,
			ContactID:    contact.ContactID,
			PhoneNumber:  contact.PhoneNumber,
			ContactName:  contact.Name,
			Attempt:      1,
			ScheduledFor: now,
			Status:       model.CallQueueStatusPending,
		})
	}
	if len(entries) == 0 {
		return 0, apperrors.ContactListEmpty
	}

	inserted, err := s.store.InsertQueueEntries(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue contacts: %w", err)
	}

	status := model.CampaignStatusActive
	if c.ScheduledStart != nil && c.ScheduledStart.After(now) {
		status = model.CampaignStatusScheduled
	}
	if err := s.store.SetCampaignStatus(ctx, campaignID, status, now); err != nil {
		return inserted, fmt.Errorf("failed to update campaign status: %w", err)
	}

	s.logger.Info("Campaign started",
		zap.Int64("campaign_id", campaignID),
		zap.String("status", string(status)),
		zap.Int64("contacts_enqueued", inserted),
		zap.Int("contacts_received", len(contacts)))
	return inserted, nil
}

// Pause 暂停活动，下个 tick 生效；暂停就是这套设计里的取消
func (s *CampaignService) Pause(ctx context.Context, campaignID int64) error {
	c, err := s.store.CampaignByID(ctx, campaignID)
	if err != nil {
		return apperrors.CampaignNotFound
	}
	if c.Status != model.CampaignStatusActive && c.Status != model.CampaignStatusScheduled {
		return apperrors.CampaignNotPausable
	}
	if err := s.store.SetCampaignStatus(ctx, campaignID, model.CampaignStatusPaused, s.now()); err != nil {
		return fmt.Errorf("failed to pause campaign: %w", err)
	}
	s.logger.Info("Campaign paused", zap.Int64("campaign_id", campaignID))
	return nil
}

// Resume 恢复暂停的活动
func (s *CampaignService) Resume(ctx context.Context, campaignID int64) error {
	c, err := s.store.CampaignByID(ctx, campaignID)
	if err != nil {
		return apperrors.CampaignNotFound
	}
	if c.Status != model.CampaignStatusPaused {
		return apperrors.CampaignNotResumable
	}
	if err := s.store.SetCampaignStatus(ctx, campaignID, model.CampaignStatusActive, s.now()); err != nil {
		return fmt.Errorf("failed to resume campaign: %w", err)
	}
	s.logger.Info("Campaign resumed", zap.Int64("campaign_id", campaignID))
	return nil
}

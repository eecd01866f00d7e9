package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"Outcall/internal/engine"
	"Outcall/internal/model"
	"Outcall/pkg/metrics"
)

// Analyzer 通话转写的下游分析边界，投递失败不影响主流程
type Analyzer interface {
	Enqueue(callRecordID int64, transcript string, raw *model.CallEndedMessage) bool
}

// failureOutcomes 这些结果把通话记录落成 failed 而不是 completed
var failureOutcomes = map[model.CallOutcome]bool{
	model.OutcomeFailed:             true,
	model.OutcomeTimeout:            true,
	model.OutcomeProviderError:      true,
	model.OutcomeSystemError:        true,
	model.OutcomeConfigurationError: true,
	model.OutcomeVapiError:          true,
}

// ResultService 结果处理器：消费回调事件，分类结果并落库，再走重试策略
type ResultService struct {
	logger   *zap.Logger
	store    engine.Store
	analysis Analyzer // 可为 nil
	now      func() time.Time
}

// NewResultService 构造结果处理器，analysis 传 nil 则跳过分析投递
func NewResultService(log *zap.Logger, store engine.Store, analysis Analyzer) *ResultService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ResultService{
		logger:   log,
		store:    store,
		analysis: analysis,
		now:      time.Now,
	}
}

// HandleCallEnded 处理一条通话结束事件。返回 error 表示需要重新投递
func (s *ResultService) HandleCallEnded(ctx context.Context, msg *model.CallEndedMessage) error {
	entry, err := s.store.EntryByCallID(ctx, msg.CallID)
	if err != nil {
		return fmt.Errorf("failed to look up queue entry: %w", err)
	}
	if entry == nil {
		// 不是本引擎发起的，或看门狗已经清理过了，不算错误
		s.logger.Info("Callback for unknown call, dropping",
			zap.String("call_id", msg.CallID))
		return nil
	}

	campaign, err := s.store.CampaignByID(ctx, entry.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}

	duration := msg.DurationSeconds()
	outcome := engine.ClassifyOutcome(msg.EndedReason, duration, msg.Transcript != "" || msg.HasMessages)
	metrics.RecordCallOutcome(string(outcome), msg.Cost)

	// 号码和姓名优先用回调里的，缺了回退到队列条目存的值
	phone := msg.Customer.Number
	if phone == "" {
		phone = entry.PhoneNumber
	}
	name := msg.Customer.Name
	if name == "" {
		name = entry.ContactName
	}
	if phone == "" {
		s.logger.Error("Call record has no phone number from any source",
			zap.String("call_id", msg.CallID),
			zap.Int64("entry_id", entry.ID))
	}

	status := model.CallStatusCompleted
	if failureOutcomes[outcome] {
		status = model.CallStatusFailed
	}

	call := &model.Call{
		OrganizationID: campaign.OrganizationID,
		CampaignID:     entry.CampaignID,
		ContactID:      &entry.ContactID,
		ContactName:    name,
		PhoneNumber:    phone,
		VapiCallID:     msg.CallID,
		Status:         status,
		Outcome:        outcome,
		EndReason:      msg.EndedReason,
		DurationSecs:   duration,
		Cost:           msg.Cost,
		StartedAt:      msg.StartedAt,
		EndedAt:        msg.EndedAt,
		Transcript:     msg.Transcript,
		RecordingURL:   msg.RecordingURL,
	}
	if err := s.store.UpsertCall(ctx, call); err != nil {
		return fmt.Errorf("failed to upsert call record: %w", err)
	}

	// 条目已经是终态说明看门狗抢先了，记录已合并，不再二次触发重试
	if !entry.Terminal() {
		if err := s.store.CompleteEntry(ctx, entry.ID, outcome); err != nil {
			return fmt.Errorf("failed to complete queue entry: %w", err)
		}
		if _, err := engine.ScheduleRetry(ctx, s.store, s.logger, campaign, entry, outcome, s.now()); err != nil {
			return fmt.Errorf("failed to schedule retry: %w", err)
		}
	}

	// 有转写就投给下游分析，失败只记日志，不影响记录终态
	if s.analysis != nil && msg.Transcript != "" {
		if !s.analysis.Enqueue(call.ID, msg.Transcript, msg) {
			s.logger.Warn("Analysis queue full, dropping enrichment",
				zap.Int64("call_record_id", call.ID),
				zap.String("call_id", msg.CallID))
		}
	}

	s.logger.Info("Call result processed",
		zap.String("call_id", msg.CallID),
		zap.Int64("campaign_id", entry.CampaignID),
		zap.Int("attempt", entry.Attempt),
		zap.String("outcome", string(outcome)),
		zap.Int("duration_secs", duration))
	return nil
}

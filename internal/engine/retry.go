package engine

import (
	"context"
	"fmt"
	"time"

	"Outcall/internal/model"
	"Outcall/pkg/metrics"

	"go.uber.org/zap"
)

// retryEligible 按策略判断某个结果是否允许重试
// provider/system/vapi 类错误默认允许，quick_hangup 三态默认允许
func retryEligible(s *model.RetrySettings, outcome model.CallOutcome) bool {
	switch outcome {
	case model.OutcomeNoAnswer:
		return s.RetryOnNoAnswer
	case model.OutcomeBusy:
		return s.RetryOnBusy
	case model.OutcomeVoicemail:
		return s.RetryOnVoicemail
	case model.OutcomeFailed, model.OutcomeTimeout, model.OutcomeConfigurationError:
		return s.RetryOnFailed
	case model.OutcomeQuickHangup:
		return s.RetryOnQuickHangup == nil || *s.RetryOnQuickHangup
	case model.OutcomeProviderError, model.OutcomeSystemError, model.OutcomeVapiError:
		return true
	default:
		return false
	}
}

// PlanRetry 判断是否需要重试并给出下一次拨打时间
// attempt 是刚结束的尝试序号；attempt >= maxRetries 时不再派生
func PlanRetry(s *model.RetrySettings, outcome model.CallOutcome, attempt int, now time.Time) (time.Time, bool) {
	if s == nil || !s.EnableRetries {
		return time.Time{}, false
	}
	if attempt >= s.MaxRetries {
		return time.Time{}, false
	}
	if !retryEligible(s, outcome) {
		return time.Time{}, false
	}
	return now.Add(s.Delay()), true
}

// ScheduleRetry 为终态条目派生 attempt+1 的新条目
// 唯一索引 (campaign_id, contact_id, attempt) 保证重复调用只会入队一次
func ScheduleRetry(ctx context.Context, store Store, log *zap.Logger, c *model.Campaign, entry *model.CallQueueEntry, outcome model.CallOutcome, now time.Time) (bool, error) {
	when, ok := PlanRetry(c.Retry, outcome, entry.Attempt, now)
	if !ok {
		return false, nil
	}

	inserted, err := store.InsertQueueEntries(ctx, []*model.CallQueueEntry{{
		CampaignID:   entry.CampaignID,
		ContactID:    entry.ContactID,
		PhoneNumber:  entry.PhoneNumber,
		ContactName:  entry.ContactName,
		Attempt:      entry.Attempt + 1,
		ScheduledFor: when,
		Status:       model.CallQueueStatusPending,
	}})
	if err != nil {
		return false, fmt.Errorf("failed to insert retry entry: %w", err)
	}
	if inserted == 0 {
		log.Debug("Retry entry already exists, skipping",
			zap.Int64("campaign_id", entry.CampaignID),
			zap.Int64("contact_id", entry.ContactID),
			zap.Int("attempt", entry.Attempt+1))
		return false, nil
	}

	metrics.RecordRetryScheduled(string(outcome))
	log.Info("Retry scheduled",
		zap.Int64("campaign_id", entry.CampaignID),
		zap.Int64("contact_id", entry.ContactID),
		zap.Int("attempt", entry.Attempt+1),
		zap.String("outcome", string(outcome)),
		zap.Time("scheduled_for", when))
	return true, nil
}

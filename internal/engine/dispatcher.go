package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"Outcall/internal/model"
	"Outcall/pkg/metrics"
	"Outcall/pkg/vapi"

	"go.uber.org/zap"
)

// dispatchDue 在每日预算内下发该活动的到期队列条目
func (e *Executor) dispatchDue(ctx context.Context, c *model.Campaign, now time.Time) error {
	limit := e.opts.MaxDispatchBatch
	if c.CallLimit != nil && c.CallLimit.EnableDailyLimit {
		made, err := e.store.CountCallsSince(ctx, c.ID, e.localMidnight(c, now))
		if err != nil {
			return fmt.Errorf("failed to count today's calls: %w", err)
		}
		budget := int64(c.CallLimit.DailyCallLimit) - made
		if budget <= 0 {
			e.logger.Info("Daily call limit reached, skipping dispatch",
				zap.Int64("campaign_id", c.ID),
				zap.Int64("calls_made", made),
				zap.Int("daily_limit", c.CallLimit.DailyCallLimit))
			return nil
		}
		if budget < int64(limit) {
			limit = int(budget)
		}
	}

	entries, err := e.store.DueQueueEntries(ctx, c.ID, now, limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due queue entries: %w", err)
	}

	if len(entries) == 0 {
		pending, err := e.store.CountPendingEntries(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("failed to count pending entries: %w", err)
		}
		if pending == 0 {
			if err := e.store.SetCampaignStatus(ctx, c.ID, model.CampaignStatusCompleted, e.now()); err != nil {
				return fmt.Errorf("failed to complete campaign: %w", err)
			}
			e.logger.Info("Campaign queue drained, marked completed",
				zap.Int64("campaign_id", c.ID))
		}
		return nil
	}

	for i, entry := range entries {
		// 同活动内限速，避免供应商侧被打爆
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.opts.DispatchPause):
			}
		}
		if err := e.dispatchEntry(ctx, c, entry); err != nil {
			e.logger.Error("Failed to dispatch queue entry",
				zap.Int64("campaign_id", c.ID),
				zap.Int64("entry_id", entry.ID),
				zap.Error(err))
		}
	}
	return nil
}

// dispatchEntry 下发单个条目：在途去重 → 置 calling → 解析凭证 → 调供应商
func (e *Executor) dispatchEntry(ctx context.Context, c *model.Campaign, entry *model.CallQueueEntry) error {
	now := e.now()

	inflight, err := e.store.HasRecentDial(ctx, entry.ContactID, entry.PhoneNumber, now.Add(-e.opts.DuplicateWindow))
	if err != nil {
		return fmt.Errorf("failed to check in-flight dials: %w", err)
	}
	if inflight {
		e.logger.Debug("Contact already has an in-flight dial, leaving entry pending",
			zap.Int64("entry_id", entry.ID),
			zap.Int64("contact_id", entry.ContactID))
		return nil
	}

	if err := e.store.MarkEntryCalling(ctx, entry.ID); err != nil {
		return fmt.Errorf("failed to mark entry calling: %w", err)
	}

	found, creds, err := e.creds.Resolve(ctx, c.OrganizationID)
	if err != nil {
		return e.failDispatch(ctx, c, entry, model.OutcomeSystemError, fmt.Errorf("failed to resolve credentials: %w", err))
	}
	if !found {
		e.logger.Warn("Organization has no voice credentials configured",
			zap.Int64("campaign_id", c.ID),
			zap.Int64("organization_id", c.OrganizationID))
		return e.failDispatch(ctx, c, entry, model.OutcomeConfigurationError, nil)
	}

	if len(c.PhoneNumberIDs) == 0 {
		e.logger.Warn("Campaign has no outbound phone numbers configured",
			zap.Int64("campaign_id", c.ID))
		return e.failDispatch(ctx, c, entry, model.OutcomeConfigurationError, nil)
	}
	// 号码池按尝试序号轮转
	phoneNumberID := c.PhoneNumberIDs[entry.Attempt%len(c.PhoneNumberIDs)]

	callCtx, cancel := context.WithTimeout(ctx, e.opts.DialTimeout)
	defer cancel()

	began := e.now()
	call, err := e.voice.CreateCall(callCtx, creds, vapi.CallRequest{
		AssistantID:   c.AssistantID,
		PhoneNumberID: phoneNumberID,
		Customer: vapi.Customer{
			Number: entry.PhoneNumber,
			Name:   entry.ContactName,
		},
	})
	elapsed := e.now().Sub(began).Seconds()

	if err != nil {
		metrics.RecordCallDispatched(strconv.FormatInt(c.ID, 10), false, elapsed)
		outcome := model.OutcomeSystemError
		var apiErr *vapi.APIError
		if errors.As(err, &apiErr) {
			outcome = model.OutcomeVapiError
		}
		return e.failDispatch(ctx, c, entry, outcome, fmt.Errorf("provider createCall failed: %w", err))
	}

	metrics.RecordCallDispatched(strconv.FormatInt(c.ID, 10), true, elapsed)

	dispatchedAt := e.now()
	if err := e.store.MarkEntryDispatched(ctx, entry.ID, call.ID, dispatchedAt); err != nil {
		return fmt.Errorf("failed to record dispatched entry: %w", err)
	}
	if err := e.store.RecordDispatchedCall(ctx, &model.Call{
		OrganizationID: c.OrganizationID,
		CampaignID:     c.ID,
		ContactID:      &entry.ContactID,
		ContactName:    entry.ContactName,
		PhoneNumber:    entry.PhoneNumber,
		VapiCallID:     call.ID,
		Status:         model.CallStatusQueued,
		StartedAt:      &dispatchedAt,
	}); err != nil {
		return fmt.Errorf("failed to create call record: %w", err)
	}

	e.logger.Info("Call dispatched",
		zap.Int64("campaign_id", c.ID),
		zap.Int64("entry_id", entry.ID),
		zap.Int("attempt", entry.Attempt),
		zap.String("call_id", call.ID),
		zap.String("phone_number_id", phoneNumberID))
	return nil
}

// failDispatch 下发失败：条目置 failed 并走重试策略；回调不会来，终态在这里落定
func (e *Executor) failDispatch(ctx context.Context, c *model.Campaign, entry *model.CallQueueEntry, outcome model.CallOutcome, cause error) error {
	if err := e.store.MarkEntryFailed(ctx, entry.ID, outcome); err != nil {
		return fmt.Errorf("failed to mark entry failed: %w", err)
	}
	if _, err := ScheduleRetry(ctx, e.store, e.logger, c, entry, outcome, e.now()); err != nil {
		e.logger.Error("Failed to schedule retry after dispatch failure",
			zap.Int64("entry_id", entry.ID), zap.Error(err))
	}
	return cause
}

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"Outcall/internal/model"
	"Outcall/pkg/metrics"

	"go.uber.org/zap"
)

// WatchdogOptions 看门狗的 staleness 阈值
type WatchdogOptions struct {
	CallStaleAfter  time.Duration // 通话记录卡在非终态多久后兜底
	QueueStaleAfter time.Duration // 队列条目卡在 calling 多久后兜底
}

func (o *WatchdogOptions) applyDefaults() {
	if o.CallStaleAfter <= 0 {
		o.CallStaleAfter = 5 * time.Minute
	}
	if o.QueueStaleAfter <= 0 {
		o.QueueStaleAfter = 30 * time.Minute
	}
}

// Watchdog 卡死通话的兜底清扫。回调投递不保证送达，
// 这里保证每次尝试至少落一个终态结果。
type Watchdog struct {
	logger *zap.Logger
	store  Store
	opts   WatchdogOptions
	now    func() time.Time

	mu      sync.Mutex
	running bool
}

// NewWatchdog 构造看门狗，log 传 nil 则不输出日志
func NewWatchdog(log *zap.Logger, store Store, opts WatchdogOptions) *Watchdog {
	opts.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Watchdog{
		logger: log,
		store:  store,
		opts:   opts,
		now:    time.Now,
	}
}

// Sweep 执行一轮清扫。上一轮没结束时直接跳过
func (w *Watchdog) Sweep(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		w.logger.Warn("Previous watchdog sweep still running, skipping")
		return nil
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	now := w.now()
	var errCount int

	// 主清扫：卡在非终态的通话记录
	calls, err := w.store.StaleCalls(ctx, now.Add(-w.opts.CallStaleAfter))
	if err != nil {
		return fmt.Errorf("failed to list stale calls: %w", err)
	}
	for _, call := range calls {
		if err := w.resolveStaleCall(ctx, call, now); err != nil {
			w.logger.Error("Failed to resolve stale call",
				zap.Int64("call_id", call.ID),
				zap.String("vapi_call_id", call.VapiCallID),
				zap.Error(err))
			errCount++
		}
	}

	// 二级清扫：长时间卡在 calling 且连通话记录都没等到结果的条目
	entries, err := w.store.StaleCallingEntries(ctx, now.Add(-w.opts.QueueStaleAfter))
	if err != nil {
		return fmt.Errorf("failed to list stale queue entries: %w", err)
	}
	for _, entry := range entries {
		if err := w.resolveStaleEntry(ctx, entry, model.OutcomeTimeout, now); err != nil {
			w.logger.Error("Failed to resolve stale queue entry",
				zap.Int64("entry_id", entry.ID),
				zap.Error(err))
			errCount++
		}
	}

	if len(calls) > 0 || len(entries) > 0 {
		w.logger.Info("Watchdog sweep finished",
			zap.Int("stale_calls", len(calls)),
			zap.Int("stale_entries", len(entries)),
			zap.Int("errors", errCount))
	}
	if errCount > 0 {
		return fmt.Errorf("watchdog sweep finished with %d errors", errCount)
	}
	return nil
}

// resolveStaleCall 给没等到回调的通话记录落终态：
// 不足 2 秒视为根本没接通（failed），否则大概率进了语音信箱
func (w *Watchdog) resolveStaleCall(ctx context.Context, call *model.Call, now time.Time) error {
	var lasted time.Duration
	if call.StartedAt != nil {
		lasted = call.UpdatedAt.Sub(*call.StartedAt)
	}

	outcome := model.OutcomeVoicemail
	status := model.CallStatusCompleted
	if lasted < 2*time.Second {
		outcome = model.OutcomeFailed
		status = model.CallStatusFailed
	}

	if err := w.store.ResolveCall(ctx, call.ID, status, outcome); err != nil {
		return fmt.Errorf("failed to resolve call record: %w", err)
	}
	metrics.RecordWatchdogResolved(string(outcome))
	w.logger.Info("Stale call resolved",
		zap.Int64("call_id", call.ID),
		zap.String("vapi_call_id", call.VapiCallID),
		zap.String("outcome", string(outcome)),
		zap.Duration("lasted", lasted))

	entry, err := w.store.EntryByCallID(ctx, call.VapiCallID)
	if err != nil {
		return fmt.Errorf("failed to look up queue entry: %w", err)
	}
	if entry == nil || entry.Terminal() {
		return nil
	}
	return w.finalizeEntry(ctx, entry, outcome, now)
}

// resolveStaleEntry 给卡死的队列条目落终态并走重试
func (w *Watchdog) resolveStaleEntry(ctx context.Context, entry *model.CallQueueEntry, outcome model.CallOutcome, now time.Time) error {
	metrics.RecordWatchdogResolved(string(outcome))
	w.logger.Info("Stale queue entry resolved",
		zap.Int64("entry_id", entry.ID),
		zap.Int64("campaign_id", entry.CampaignID),
		zap.String("outcome", string(outcome)))
	return w.finalizeEntry(ctx, entry, outcome, now)
}

// finalizeEntry 条目落终态，然后与结果处理器走同一套重试策略
func (w *Watchdog) finalizeEntry(ctx context.Context, entry *model.CallQueueEntry, outcome model.CallOutcome, now time.Time) error {
	var err error
	if outcome == model.OutcomeVoicemail {
		err = w.store.CompleteEntry(ctx, entry.ID, outcome)
	} else {
		err = w.store.MarkEntryFailed(ctx, entry.ID, outcome)
	}
	if err != nil {
		return fmt.Errorf("failed to finalize queue entry: %w", err)
	}

	campaign, err := w.store.CampaignByID(ctx, entry.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign for retry decision: %w", err)
	}
	if _, err := ScheduleRetry(ctx, w.store, w.logger, campaign, entry, outcome, now); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	return nil
}

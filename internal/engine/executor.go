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

// Options 执行引擎的可调参数，零值会在 NewExecutor 里补默认
type Options struct {
	LockTTL          time.Duration // 活动锁有效期，必须大于 tick 间隔
	DispatchPause    time.Duration // 同一活动内相邻两次下发之间的间隔
	DialTimeout      time.Duration // 单次外呼请求的超时
	DuplicateWindow  time.Duration // 同联系人/同号码的在途判定窗口
	MaxDispatchBatch int           // 不限量时单 tick 单活动最多下发条数
	DefaultWorkStart string        // HH:mm
	DefaultWorkEnd   string        // HH:mm
	DefaultTimezone  string        // IANA 时区名
}

func (o *Options) applyDefaults() {
	if o.LockTTL <= 0 {
		o.LockTTL = 2 * time.Minute
	}
	if o.DispatchPause <= 0 {
		o.DispatchPause = time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 30 * time.Second
	}
	if o.DuplicateWindow <= 0 {
		o.DuplicateWindow = time.Hour
	}
	if o.MaxDispatchBatch <= 0 {
		o.MaxDispatchBatch = 50
	}
	if o.DefaultWorkStart == "" {
		o.DefaultWorkStart = "09:00"
	}
	if o.DefaultWorkEnd == "" {
		o.DefaultWorkEnd = "17:00"
	}
	if o.DefaultTimezone == "" {
		o.DefaultTimezone = "America/New_York"
	}
}

// Executor 活动执行引擎：每个 tick 扫一遍可调度活动并按预算下发外呼
type Executor struct {
	logger *zap.Logger
	store  Store
	voice  VoiceCaller
	creds  CredentialResolver
	lease  LeaseFunc // 可为 nil，nil 时只走 DB 锁
	opts   Options
	now    func() time.Time

	tickMu      sync.Mutex
	tickRunning bool
}

// NewExecutor 构造执行引擎，lease 传 nil 则跳过租约快路径，log 传 nil 则不输出日志
func NewExecutor(log *zap.Logger, store Store, voice VoiceCaller, creds CredentialResolver, lease LeaseFunc, opts Options) *Executor {
	opts.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		logger: log,
		store:  store,
		voice:  voice,
		creds:  creds,
		lease:  lease,
		opts:   opts,
		now:    time.Now,
	}
}

// RunTick 执行一轮调度。上一轮还没结束时直接跳过，不排队
func (e *Executor) RunTick(ctx context.Context) error {
	e.tickMu.Lock()
	if e.tickRunning {
		e.tickMu.Unlock()
		e.logger.Warn("Previous tick still running, skipping this round")
		return nil
	}
	e.tickRunning = true
	e.tickMu.Unlock()

	defer func() {
		e.tickMu.Lock()
		e.tickRunning = false
		e.tickMu.Unlock()
	}()

	campaigns, err := e.store.SchedulableCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("failed to list schedulable campaigns: %w", err)
	}
	if len(campaigns) == 0 {
		return nil
	}

	e.logger.Info("Engine tick started", zap.Int("campaigns", len(campaigns)))
	metrics.RecordActiveCampaigns(int64(len(campaigns)))
	defer metrics.RecordActiveCampaigns(-int64(len(campaigns)))

	var (
		wg       sync.WaitGroup
		errs     []error
		errsMu   sync.Mutex
		appendEr = func(err error) {
			errsMu.Lock()
			errs = append(errs, err)
			errsMu.Unlock()
		}
	)

	for _, c := range campaigns {
		wg.Add(1)
		go func(c *model.Campaign) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("Panic while processing campaign",
						zap.Int64("campaign_id", c.ID),
						zap.Any("panic", r))
					appendEr(fmt.Errorf("campaign %d panicked: %v", c.ID, r))
				}
			}()
			if err := e.processCampaign(ctx, c); err != nil {
				e.logger.Error("Failed to process campaign",
					zap.Int64("campaign_id", c.ID),
					zap.Error(err))
				appendEr(fmt.Errorf("campaign %d: %w", c.ID, err))
			}
		}(c)
	}
	wg.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("tick finished with %d errors, first: %w", len(errs), errs[0])
	}
	e.logger.Info("Engine tick finished", zap.Int("campaigns", len(campaigns)))
	return nil
}

// processCampaign 单个活动的一轮处理：抢锁 → 激活判定 → 时窗判定 → 下发
func (e *Executor) processCampaign(ctx context.Context, c *model.Campaign) error {
	now := e.now()

	// 本地/Redis 租约快路径，拿不到说明同窗口内已有实例在处理
	if e.lease != nil {
		ok, err := e.lease(ctx, c.ID, e.opts.LockTTL)
		if err != nil {
			e.logger.Warn("Campaign lease check failed, falling through to DB lock",
				zap.Int64("campaign_id", c.ID), zap.Error(err))
		} else if !ok {
			e.logger.Debug("Campaign lease held elsewhere, skipping",
				zap.Int64("campaign_id", c.ID))
			return nil
		}
	}

	locked, err := e.store.AcquireCampaignLock(ctx, c.ID, now, e.opts.LockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire campaign lock: %w", err)
	}
	if !locked {
		e.logger.Debug("Campaign locked by another instance, skipping",
			zap.Int64("campaign_id", c.ID))
		return nil
	}

	if c.Status == model.CampaignStatusScheduled {
		if c.ScheduledStart == nil || c.ScheduledStart.After(now) {
			return nil
		}
		if err := e.store.SetCampaignStatus(ctx, c.ID, model.CampaignStatusActive, now); err != nil {
			return fmt.Errorf("failed to activate scheduled campaign: %w", err)
		}
		c.Status = model.CampaignStatusActive
		e.logger.Info("Scheduled campaign activated", zap.Int64("campaign_id", c.ID))
	}

	if !e.dialWindowOpen(c, now) {
		e.logger.Debug("Outside dial window, skipping dispatch",
			zap.Int64("campaign_id", c.ID))
		return nil
	}

	return e.dispatchDue(ctx, c, now)
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"Outcall/config"
	"Outcall/internal/cache"
	"Outcall/internal/engine"
	"Outcall/internal/repository"
	"Outcall/internal/service"
	"Outcall/pkg/logger"
	"Outcall/pkg/metrics"
	pkgotel "Outcall/pkg/otel"
	"Outcall/pkg/snowflake"
	"Outcall/pkg/vapi"
	"Outcall/storage"
	"Outcall/storage/database"
)

func main() {

	logger.Init()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Logger.Info("Scheduler received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	if err := storage.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize storage for scheduler", zap.Error(err))
	}
	defer storage.Close()

	if err := snowflake.Init(config.Cfg.SnowflakeMachineID, config.Cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake for scheduler", zap.Error(err))
	}

	if config.Cfg.TracingEnabled {
		shutdown, err := pkgotel.InitOpenTelemetry(ctx, pkgotel.Config{
			ServiceName:  config.Cfg.ServiceName + "-scheduler",
			Environment:  config.Cfg.Environment,
			OTLPEndpoint: config.Cfg.OTLPEndpoint,
			SampleRatio:  config.Cfg.TracingSampler,
		})
		if err != nil {
			logger.Logger.Warn("Failed to initialize OpenTelemetry, continuing without it", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
				defer c()
				if err := shutdown(shutdownCtx); err != nil {
					logger.Logger.Error("Failed to shutdown OpenTelemetry", zap.Error(err))
				}
			}()
			if err := metrics.InitMetrics(); err != nil {
				logger.Logger.Warn("Failed to initialize engine metrics", zap.Error(err))
			}
		}
	}

	logger.Logger.Info("Scheduler service starting",
		zap.String("service", config.Cfg.ServiceName+"-scheduler"),
		zap.String("environment", config.Cfg.Environment),
	)

	store := repository.NewGormStore(database.DB())
	voice := vapi.NewClient(config.Cfg.VapiBaseURL, config.Cfg.VapiDialTimeout)
	creds := service.NewCredentialService(logger.Logger, store)

	executor := engine.NewExecutor(logger.Logger, store, voice, creds, cache.TryCampaignLease, engine.Options{
		LockTTL:          config.Cfg.CampaignLockTTL,
		DispatchPause:    config.Cfg.DispatchPause,
		DialTimeout:      config.Cfg.VapiDialTimeout,
		DuplicateWindow:  config.Cfg.DuplicateWindow,
		DefaultWorkStart: config.Cfg.DefaultWorkStart,
		DefaultWorkEnd:   config.Cfg.DefaultWorkEnd,
		DefaultTimezone:  config.Cfg.DefaultTimezone,
	})
	watchdog := engine.NewWatchdog(logger.Logger, store, engine.WatchdogOptions{
		CallStaleAfter:  config.Cfg.CallStaleAfter,
		QueueStaleAfter: config.Cfg.QueueStaleAfter,
	})

	go runEngineLoop(ctx, executor)
	go runWatchdogLoop(ctx, watchdog)

	<-ctx.Done()

	logger.Logger.Info("Scheduler service shutting down gracefully")
}

// runEngineLoop 引擎主循环：启动先跑一轮，之后按固定周期 tick
// 单轮超时给两个 tick 的长度，和锁 TTL 保持一致的量级
func runEngineLoop(ctx context.Context, executor *engine.Executor) {
	interval := config.Cfg.EngineTickInterval

	runOnce := func() {
		runCtx, cancel := context.WithTimeout(ctx, 2*interval)
		if err := executor.RunTick(runCtx); err != nil {
			logger.Logger.Error("Engine tick run failed", zap.Error(err))
		}
		cancel()
	}

	runOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

// runWatchdogLoop 看门狗循环：启动后先等一小段再跑第一轮，
// 避免和刚重启时尚未恢复的回调消费抢着兜底
func runWatchdogLoop(ctx context.Context, watchdog *engine.Watchdog) {
	startupDelay := time.NewTimer(config.Cfg.WatchdogStartupDelay)
	defer startupDelay.Stop()

	select {
	case <-ctx.Done():
		return
	case <-startupDelay.C:
	}

	runOnce := func() {
		runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		if err := watchdog.Sweep(runCtx); err != nil {
			logger.Logger.Error("Watchdog sweep run failed", zap.Error(err))
		}
		cancel()
	}

	runOnce()

	ticker := time.NewTicker(config.Cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

package middleware

import (
	"go.opentelemetry.io/otel"

	"Outcall/pkg/logger"
)

// Init 初始化所有中间件
// 回调和活动控制接口都不做鉴权，调用方在内网（管理端 + 供应商回调经网关）
// HTTP 指标无条件初始化：没配 OTLP 时走全局 no-op meter，不会产生开销
func Init() error {
	if err := InitMetrics(otel.Meter("http-server")); err != nil {
		return err
	}

	logger.Logger.Info("All middlewares initialized successfully")
	return nil
}

package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics OpenTelemetry 指标集合
type OTelMetrics struct {
	// 外呼相关指标
	CallsDispatchedTotal  metric.Int64Counter
	CallOutcomesTotal     metric.Int64Counter
	RetriesScheduledTotal metric.Int64Counter
	WatchdogResolvedTotal metric.Int64Counter
	DispatchDuration      metric.Float64Histogram
	CallCostTotal         metric.Float64Counter
	ActiveCampaigns       metric.Int64UpDownCounter
}

var (
	// 全局指标实例
	metrics *OTelMetrics
	// meter 用于创建指标
	meter = otel.Meter("outcall")
)

// InitMetrics 初始化 OpenTelemetry 指标
func InitMetrics() error {
	var err error

	metrics = &OTelMetrics{}

	metrics.CallsDispatchedTotal, err = meter.Int64Counter(
		"calls_dispatched_total",
		metric.WithDescription("Total number of outbound calls handed to the voice provider"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	metrics.CallOutcomesTotal, err = meter.Int64Counter(
		"call_outcomes_total",
		metric.WithDescription("Total number of classified call outcomes"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	metrics.RetriesScheduledTotal, err = meter.Int64Counter(
		"retries_scheduled_total",
		metric.WithDescription("Total number of retry queue entries created"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return err
	}

	metrics.WatchdogResolvedTotal, err = meter.Int64Counter(
		"watchdog_resolved_total",
		metric.WithDescription("Total number of stuck calls resolved by the watchdog"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	metrics.DispatchDuration, err = meter.Float64Histogram(
		"dispatch_duration_seconds",
		metric.WithDescription("Time spent on a provider createCall request in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	metrics.CallCostTotal, err = meter.Float64Counter(
		"call_cost_total",
		metric.WithDescription("Total reported cost of completed calls"),
		metric.WithUnit("{usd}"),
	)
	if err != nil {
		return err
	}

	metrics.ActiveCampaigns, err = meter.Int64UpDownCounter(
		"active_campaigns",
		metric.WithDescription("Number of campaigns currently being processed in a tick"),
		metric.WithUnit("{campaign}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// GetMetrics 获取全局指标实例
func GetMetrics() *OTelMetrics {
	return metrics
}

// RecordCallDispatched 记录一次外呼下发
func (m *OTelMetrics) RecordCallDispatched(ctx context.Context, campaignID string, success bool, duration float64) {
	status := "success"
	if !success {
		status = "failed"
	}

	m.CallsDispatchedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("campaign_id", campaignID),
		attribute.String("status", status),
	))
	m.DispatchDuration.Record(ctx, duration, metric.WithAttributes(
		attribute.String("status", status),
	))
}

// RecordCallOutcome 记录一次结果分类
func (m *OTelMetrics) RecordCallOutcome(ctx context.Context, outcome string, cost float64) {
	m.CallOutcomesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
	if cost > 0 {
		m.CallCostTotal.Add(ctx, cost, metric.WithAttributes(
			attribute.String("outcome", outcome),
		))
	}
}

// RecordRetryScheduled 记录一次重试入队
func (m *OTelMetrics) RecordRetryScheduled(ctx context.Context, outcome string) {
	m.RetriesScheduledTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordWatchdogResolved 记录一次看门狗兜底
func (m *OTelMetrics) RecordWatchdogResolved(ctx context.Context, outcome string) {
	m.WatchdogResolvedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

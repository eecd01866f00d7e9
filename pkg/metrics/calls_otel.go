package metrics

import (
	"context"
)

// 包级别的便捷函数：指标未初始化时直接丢弃，调用方不需要判空

// RecordCallDispatched 记录外呼下发
func RecordCallDispatched(campaignID string, success bool, duration float64) {
	if m := GetMetrics(); m != nil {
		m.RecordCallDispatched(context.Background(), campaignID, success, duration)
	}
}

// RecordCallOutcome 记录结果分类
func RecordCallOutcome(outcome string, cost float64) {
	if m := GetMetrics(); m != nil {
		m.RecordCallOutcome(context.Background(), outcome, cost)
	}
}

// RecordRetryScheduled 记录重试入队
func RecordRetryScheduled(outcome string) {
	if m := GetMetrics(); m != nil {
		m.RecordRetryScheduled(context.Background(), outcome)
	}
}

// RecordWatchdogResolved 记录看门狗兜底
func RecordWatchdogResolved(outcome string) {
	if m := GetMetrics(); m != nil {
		m.RecordWatchdogResolved(context.Background(), outcome)
	}
}

// RecordActiveCampaigns 记录单轮 tick 正在处理的活动数
func RecordActiveCampaigns(n int64) {
	if m := GetMetrics(); m != nil {
		m.ActiveCampaigns.Add(context.Background(), n)
	}
}

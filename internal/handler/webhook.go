package handler

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"go.uber.org/zap"

	"Outcall/internal/cache"
	"Outcall/internal/model"
	"Outcall/internal/queue"
	apperrors "Outcall/pkg/errors"
	"Outcall/pkg/logger"
	"Outcall/pkg/response"
	"Outcall/pkg/vapi"
)

// HandleVapiWebhook 接收供应商的 end-of-call-report 回调
// 这里只做解析、去重和入队，真正的结果处理在 worker 侧
// POST /v1/webhooks/vapi
func HandleVapiWebhook(ctx context.Context, c *app.RequestContext) {
	msg, err := vapi.ParseWebhook(c.Request.Body())
	if err != nil {
		logger.Logger.Warn("Invalid webhook payload", zap.Error(err))
		response.Error(ctx, c, apperrors.WebhookPayloadInvalid)
		return
	}

	// 其他消息类型（状态更新、转写片段等）直接确认并忽略
	if msg.Type != vapi.MessageTypeEndOfCallReport {
		response.Success(ctx, c, map[string]interface{}{"ignored": true})
		return
	}

	callID := msg.CallID()
	if callID == "" {
		response.Error(ctx, c, apperrors.WebhookCallIDMissing)
		return
	}

	fresh, err := cache.MarkCallbackSeen(ctx, callID)
	if err != nil {
		// 去重只是优化，Redis 不可用时放行，靠落库幂等兜底
		logger.Logger.Warn("Callback dedupe check failed, processing anyway",
			zap.String("call_id", callID), zap.Error(err))
	} else if !fresh {
		logger.Logger.Info("Duplicate callback, acknowledged without enqueue",
			zap.String("call_id", callID))
		response.Accepted(ctx, c)
		return
	}

	customer := msg.CustomerInfo()
	event := model.CallEndedMessage{
		CallID:       callID,
		EndedReason:  msg.EndedReason,
		StartedAt:    msg.StartedAt,
		EndedAt:      msg.EndedAt,
		Cost:         msg.Cost,
		Transcript:   msg.Transcript,
		HasMessages:  len(msg.Messages) > 0,
		RecordingURL: msg.RecordingURL,
		Customer: model.CallParty{
			Number: customer.Number,
			Name:   customer.Name,
		},
		ReceivedAt: time.Now().UTC().Format(time.RFC3339),
	}

	if err := queue.PublishCallEnded(event); err != nil {
		// 入队失败要把去重标记撤掉，否则供应商重投会被当成重复
		if delErr := cache.UnmarkCallbackSeen(ctx, callID); delErr != nil {
			logger.Logger.Error("Failed to roll back callback dedupe marker",
				zap.String("call_id", callID), zap.Error(delErr))
		}
		response.Error(ctx, c, err)
		return
	}

	response.Accepted(ctx, c)
}

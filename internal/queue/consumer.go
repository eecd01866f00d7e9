package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"Outcall/internal/model"
	"Outcall/pkg/logger"
	"Outcall/storage/mq"
)

// ResultHandler 通话结束事件的处理边界，worker 启动时注入
type ResultHandler interface {
	HandleCallEnded(ctx context.Context, msg *model.CallEndedMessage) error
}

var resultHandler ResultHandler

// SetResultHandler 设置结果处理器（在 worker 启动时调用）
func SetResultHandler(h ResultHandler) {
	resultHandler = h
}

// StartCallEndedConsumer 启动通话结束事件消费者，阻塞直到通道关闭
func StartCallEndedConsumer(ctx context.Context) error {
	handler := func(body []byte) error {
		var msg model.CallEndedMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			// 消息体坏了重投也没用，记日志后吞掉
			logger.Logger.Error("Failed to unmarshal call-ended message, dropping",
				zap.Error(err))
			return nil
		}

		if resultHandler == nil {
			return fmt.Errorf("result handler is not set")
		}

		if err := resultHandler.HandleCallEnded(ctx, &msg); err != nil {
			return fmt.Errorf("failed to process call-ended message %s: %w", msg.MessageID, err)
		}
		return nil
	}

	return mq.Consume(mq.ConsumeOptions{
		Queue:         mq.QueueCallEnded,
		ConsumerTag:   "outcall-worker",
		PrefetchCount: 8,
		Handler:       handler,
	})
}

// StartAllConsumers 启动全部消费者
func StartAllConsumers(ctx context.Context) error {
	return StartCallEndedConsumer(ctx)
}

package queue

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"Outcall/internal/model"
	"Outcall/pkg/logger"
	"Outcall/pkg/snowflake"
	"Outcall/storage/mq"
)

// PublishCallEnded 发布通话结束事件，webhook handler 解析去重后调这里
func PublishCallEnded(msg model.CallEndedMessage) error {
	if msg.MessageID == "" {
		// snowflake 没初始化时回退 uuid，消息 ID 只用于追踪和日志
		if id, err := snowflake.NextID(); err == nil {
			msg.MessageID = fmt.Sprintf("call_ended_%d", id)
		} else {
			msg.MessageID = "call_ended_" + uuid.NewString()
		}
	}

	err := mq.PublishMessage(
		mq.ExchangeCallEvents, // exchange
		mq.KeyCallEnded,       // routing key
		msg,                   // body
	)
	if err != nil {
		logger.Logger.Error("Failed to publish call-ended message",
			zap.String("message_id", msg.MessageID),
			zap.String("call_id", msg.CallID),
			zap.Error(err),
		)
		return err
	}

	logger.Logger.Info("Published call-ended message",
		zap.String("message_id", msg.MessageID),
		zap.String("call_id", msg.CallID),
		zap.String("ended_reason", msg.EndedReason),
	)
	return nil
}

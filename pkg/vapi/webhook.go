package vapi

import (
	"encoding/json"
	"fmt"
	"time"
)

// 回调报文只保留引擎关心的字段，其余的供应商字段直接忽略
// 参考 end-of-call-report 的消息信封：{"message": {...}}

const MessageTypeEndOfCallReport = "end-of-call-report"

// WebhookEnvelope 回调的外层信封
type WebhookEnvelope struct {
	Message WebhookMessage `json:"message"`
}

// WebhookMessage 回调消息体
type WebhookMessage struct {
	Type         string             `json:"type"`
	EndedReason  string             `json:"endedReason"`
	Call         WebhookCall        `json:"call"`
	Customer     Customer           `json:"customer"`
	StartedAt    *time.Time         `json:"startedAt"`
	EndedAt      *time.Time         `json:"endedAt"`
	Cost         float64            `json:"cost"`
	Transcript   string             `json:"transcript"`
	Messages     []WebhookUtterance `json:"messages"`
	RecordingURL string             `json:"recordingUrl"`
}

// WebhookCall 回调中的 call 对象
type WebhookCall struct {
	ID       string   `json:"id"`
	Customer Customer `json:"customer"`
}

// WebhookUtterance 对话消息，仅用于判断通话中是否真的说过话
type WebhookUtterance struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// ParseWebhook 解析回调报文并校验 call id
func ParseWebhook(body []byte) (*WebhookMessage, error) {
	var envelope WebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}

	msg := envelope.Message
	if msg.Type == "" {
		return nil, fmt.Errorf("webhook payload has no message type")
	}

	return &msg, nil
}

// CallID 返回回调对应的供应商 call id
func (m *WebhookMessage) CallID() string {
	return m.Call.ID
}

// CustomerInfo 返回被叫信息，优先取消息顶层，回落到 call 对象
func (m *WebhookMessage) CustomerInfo() Customer {
	if m.Customer.Number != "" || m.Customer.Name != "" {
		return m.Customer
	}
	return m.Call.Customer
}

// DurationSeconds 根据起止时间计算通话时长（秒）
func (m *WebhookMessage) DurationSeconds() int {
	if m.StartedAt == nil || m.EndedAt == nil {
		return 0
	}
	d := m.EndedAt.Sub(*m.StartedAt)
	if d < 0 {
		return 0
	}
	return int(d.Seconds())
}

// HasTranscript 通话是否留下了转录内容
func (m *WebhookMessage) HasTranscript() bool {
	return m.Transcript != "" || len(m.Messages) > 0
}

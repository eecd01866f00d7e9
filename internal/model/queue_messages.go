package model

import (
	"time"
)

// CallEndedMessage 回调入队消息
// webhook handler 只做解析和去重，落库、分类、重试都在 worker 侧
type CallEndedMessage struct {
	MessageID    string     `json:"message_id"`
	CallID       string     `json:"call_id"` // 供应商的 call id
	EndedReason  string     `json:"ended_reason"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Cost         float64    `json:"cost"`
	Transcript   string     `json:"transcript,omitempty"`
	HasMessages  bool       `json:"has_messages"`
	RecordingURL string     `json:"recording_url,omitempty"`
	Customer     CallParty  `json:"customer"`
	ReceivedAt   string     `json:"received_at"` // RFC3339
}

// CallParty 回调里携带的被叫信息
type CallParty struct {
	Number string `json:"number"`
	Name   string `json:"name,omitempty"`
}

// DurationSeconds 根据起止时间计算通话时长（秒）
func (m *CallEndedMessage) DurationSeconds() int {
	if m.StartedAt == nil || m.EndedAt == nil {
		return 0
	}
	d := m.EndedAt.Sub(*m.StartedAt)
	if d < 0 {
		return 0
	}
	return int(d.Seconds())
}

package model

import (
	"time"
)

// CallStatus 通话记录状态枚举，queued/ringing/in_progress 是供应商侧的非终态
type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
)

// Terminal 状态是否是终态
func (s CallStatus) Terminal() bool {
	return s == CallStatusCompleted || s == CallStatusFailed
}

// CallOutcome 通话结果的内部分类
type CallOutcome string

const (
	OutcomeAnswered           CallOutcome = "answered"
	OutcomeQuickHangup        CallOutcome = "quick_hangup"
	OutcomeCompleted          CallOutcome = "completed"
	OutcomeNoAnswer           CallOutcome = "no_answer"
	OutcomeBusy               CallOutcome = "busy"
	OutcomeVoicemail          CallOutcome = "voicemail"
	OutcomeFailed             CallOutcome = "failed"
	OutcomeTimeout            CallOutcome = "timeout"
	OutcomeProviderError      CallOutcome = "provider_error"
	OutcomeSystemError        CallOutcome = "system_error"
	OutcomeConfigurationError CallOutcome = "configuration_error"
	OutcomeVapiError          CallOutcome = "vapi_error" // 外呼请求本身失败，回调永远不会来
	OutcomeUnknown            CallOutcome = "unknown"
)

// Call 通话记录，一次已完成尝试的终态存档
// vapi_call_id 唯一，重复回调靠 upsert 幂等
type Call struct {
	BaseModel
	OrganizationID int64       `gorm:"not null;index:idx_calls_org" json:"organization_id"`
	CampaignID     int64       `gorm:"not null;index:idx_calls_campaign" json:"campaign_id"`
	ContactID      *int64      `gorm:"index:idx_calls_contact" json:"contact_id,omitempty"`
	ContactName    string      `gorm:"type:varchar(255)" json:"contact_name"`
	PhoneNumber    string      `gorm:"type:varchar(32);index:idx_calls_phone" json:"phone_number"`
	VapiCallID     string      `gorm:"type:varchar(64);uniqueIndex:uq_calls_vapi_call_id;not null" json:"vapi_call_id"`
	Status         CallStatus  `gorm:"type:varchar(16);not null;default:'queued';index:idx_calls_status" json:"status"`
	Outcome        CallOutcome `gorm:"type:varchar(32)" json:"outcome"`
	EndReason      string      `gorm:"type:varchar(128)" json:"end_reason"`
	DurationSecs   int         `gorm:"not null;default:0" json:"duration_secs"`
	Cost           float64     `gorm:"type:numeric(10,4);not null;default:0" json:"cost"`
	StartedAt      *time.Time  `gorm:"type:timestamptz;index:idx_calls_started" json:"started_at,omitempty"`
	EndedAt        *time.Time  `gorm:"type:timestamptz" json:"ended_at,omitempty"`
	Transcript     string      `gorm:"type:text" json:"transcript,omitempty"`
	RecordingURL   string      `gorm:"type:varchar(512)" json:"recording_url,omitempty"`
}

// TableName 指定表名
func (Call) TableName() string {
	return "calls"
}

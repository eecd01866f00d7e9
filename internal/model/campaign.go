package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// CampaignStatus 活动生命周期状态枚举
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"     // 草稿，不参与调度
	CampaignStatusScheduled CampaignStatus = "scheduled" // 定时，等到 scheduled_start 后激活
	CampaignStatusActive    CampaignStatus = "active"    // 执行中
	CampaignStatusPaused    CampaignStatus = "paused"    // 暂停，暂停即取消，下个 tick 生效
	CampaignStatusCompleted CampaignStatus = "completed" // 队列清空后的终态
)

// WorkingHours 允许外呼的本地时段，HH:mm 字符串，含两端
type WorkingHours struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

func (h WorkingHours) Value() (driver.Value, error) {
	return json.Marshal(h)
}

func (h *WorkingHours) Scan(value interface{}) error {
	return scanJSON(value, h)
}

// WorkingDays 一周中允许外呼的日子
type WorkingDays struct {
	Monday    bool `json:"monday"`
	Tuesday   bool `json:"tuesday"`
	Wednesday bool `json:"wednesday"`
	Thursday  bool `json:"thursday"`
	Friday    bool `json:"friday"`
	Saturday  bool `json:"saturday"`
	Sunday    bool `json:"sunday"`
}

// Enabled 判断某个 weekday 是否允许外呼
func (d WorkingDays) Enabled(weekday time.Weekday) bool {
	switch weekday {
	case time.Monday:
		return d.Monday
	case time.Tuesday:
		return d.Tuesday
	case time.Wednesday:
		return d.Wednesday
	case time.Thursday:
		return d.Thursday
	case time.Friday:
		return d.Friday
	case time.Saturday:
		return d.Saturday
	case time.Sunday:
		return d.Sunday
	}
	return false
}

func (d WorkingDays) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *WorkingDays) Scan(value interface{}) error {
	return scanJSON(value, d)
}

// CallLimitSettings 每日外呼量限制
type CallLimitSettings struct {
	EnableDailyLimit bool `json:"enableDailyLimit"`
	DailyCallLimit   int  `json:"dailyCallLimit"`
}

func (s CallLimitSettings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *CallLimitSettings) Scan(value interface{}) error {
	return scanJSON(value, s)
}

// RetrySettings 失败/未接的重试策略
// RetryOnQuickHangup 为三态：未显式配置时视为允许重试
type RetrySettings struct {
	EnableRetries      bool   `json:"enableRetries"`
	MaxRetries         int    `json:"maxRetries"`
	RetryOnNoAnswer    bool   `json:"retryOnNoAnswer"`
	RetryOnBusy        bool   `json:"retryOnBusy"`
	RetryOnVoicemail   bool   `json:"retryOnVoicemail"`
	RetryOnFailed      bool   `json:"retryOnFailed"`
	RetryOnQuickHangup *bool  `json:"retryOnQuickHangup,omitempty"`
	RetryDelay         int    `json:"retryDelay"`
	RetryDelayUnit     string `json:"retryDelayUnit"` // hours | days
}

// Delay 将 retryDelay 按单位换算成 Duration，缺省按小时
func (s RetrySettings) Delay() time.Duration {
	switch s.RetryDelayUnit {
	case "days":
		return time.Duration(s.RetryDelay) * 24 * time.Hour
	default:
		return time.Duration(s.RetryDelay) * time.Hour
	}
}

func (s RetrySettings) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *RetrySettings) Scan(value interface{}) error {
	return scanJSON(value, s)
}

// StringList 存成 JSONB 的字符串数组（外呼号码池）
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// Campaign 外呼活动模型
// 活动本身由外部管理端创建；本引擎只改 status 和时间戳
type Campaign struct {
	BaseModel
	OrganizationID int64              `gorm:"not null;index:idx_campaigns_org" json:"organization_id"`
	Name           string             `gorm:"type:varchar(255);not null" json:"name"`
	Status         CampaignStatus     `gorm:"type:varchar(16);not null;default:'draft';index:idx_campaigns_status" json:"status"`
	AssistantID    string             `gorm:"type:varchar(64);not null" json:"assistant_id"`
	PhoneNumberIDs StringList         `gorm:"type:jsonb;not null" json:"phone_number_ids"`
	WorkingHours   *WorkingHours      `gorm:"type:jsonb" json:"working_hours,omitempty"`
	WorkingDays    *WorkingDays       `gorm:"type:jsonb" json:"working_days,omitempty"`
	CallLimit      *CallLimitSettings `gorm:"type:jsonb" json:"call_limit_settings,omitempty"`
	Retry          *RetrySettings     `gorm:"type:jsonb" json:"retry_settings,omitempty"`
	ScheduledStart *time.Time         `gorm:"type:timestamptz" json:"scheduled_start,omitempty"`
	StartedAt      *time.Time         `gorm:"type:timestamptz" json:"started_at,omitempty"`
	CompletedAt    *time.Time         `gorm:"type:timestamptz" json:"completed_at,omitempty"`
}

// TableName 指定表名
func (Campaign) TableName() string {
	return "campaigns"
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.New("failed to unmarshal JSONB value")
		}
	}
	return json.Unmarshal(bytes, dest)
}

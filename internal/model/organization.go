package model

// Organization 组织模型
// 凭证有三种历史存储形态：settings.vapi 嵌套对象、vapi_credentials JSON 字符串列、
// 以及 vapi_api_key 平铺列。归一化在 service 的 CredentialResolver 里做，引擎只看一种形态。
type Organization struct {
	BaseModel
	Name            string  `gorm:"type:varchar(255);not null" json:"name"`
	Settings        JSONB   `gorm:"type:jsonb" json:"settings,omitempty"`
	VapiCredentials *string `gorm:"type:text" json:"vapi_credentials,omitempty"`
	VapiAPIKey      *string `gorm:"type:varchar(128)" json:"vapi_api_key,omitempty"`
	VapiOrgID       *string `gorm:"type:varchar(64)" json:"vapi_org_id,omitempty"`
}

// TableName 指定表名
func (Organization) TableName() string {
	return "organizations"
}

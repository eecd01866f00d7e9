package errors

func (d Definition) Error() string {
	return d.Message
}

// Definition 表示业务错误码及默认信息。
type Definition struct {
	Code    string
	Message string
}

// 活动模块错误。
var (
	CampaignNotFound     = Definition{Code: "CAMPAIGN_NOT_FOUND", Message: "Campaign not found"}
	CampaignNotStartable = Definition{Code: "CAMPAIGN_NOT_STARTABLE", Message: "Campaign cannot be started in its current status"}
	CampaignNotPausable  = Definition{Code: "CAMPAIGN_NOT_PAUSABLE", Message: "Campaign cannot be paused in its current status"}
	CampaignNotResumable = Definition{Code: "CAMPAIGN_NOT_RESUMABLE", Message: "Campaign cannot be resumed in its current status"}
	ContactListEmpty     = Definition{Code: "CONTACT_LIST_EMPTY", Message: "Contact list is empty"}
)

// 回调模块错误。
var (
	WebhookPayloadInvalid = Definition{Code: "WEBHOOK_PAYLOAD_INVALID", Message: "Webhook payload invalid"}
	WebhookCallIDMissing  = Definition{Code: "WEBHOOK_CALL_ID_MISSING", Message: "Webhook payload has no call id"}
)

// Lookup 提供错误码查询能力。
var Lookup = map[string]Definition{
	CampaignNotFound.Code:      CampaignNotFound,
	CampaignNotStartable.Code:  CampaignNotStartable,
	CampaignNotPausable.Code:   CampaignNotPausable,
	CampaignNotResumable.Code:  CampaignNotResumable,
	ContactListEmpty.Code:      ContactListEmpty,
	WebhookPayloadInvalid.Code: WebhookPayloadInvalid,
	WebhookCallIDMissing.Code:  WebhookCallIDMissing,
}

// Get 根据错误码返回 Definition，若不存在则返回空 Definition。
func Get(code string) Definition {
	if def, ok := Lookup[code]; ok {
		return def
	}
	return Definition{Code: code, Message: "Unexpected error"}
}

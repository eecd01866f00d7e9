package handler

import (
	"context"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"

	"Outcall/internal/service"
	apperrors "Outcall/pkg/errors"
	"Outcall/pkg/response"
)

var campaignService *service.CampaignService

// SetCampaignService 注入活动控制服务（在 server 启动时调用）
func SetCampaignService(s *service.CampaignService) {
	campaignService = s
}

// StartCampaignRequest 启动活动的请求体，联系人列表由管理端带过来
type StartCampaignRequest struct {
	Contacts []service.StartContact `json:"contacts"`
}

// StartCampaign 启动活动并批量入队联系人
// POST /v1/campaigns/:campaign_id/start
func StartCampaign(ctx context.Context, c *app.RequestContext) {
	campaignID, ok := campaignIDParam(ctx, c)
	if !ok {
		return
	}

	var req StartCampaignRequest
	if err := c.BindJSON(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	enqueued, err := campaignService.Start(ctx, campaignID, req.Contacts)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{
		"campaign_id": campaignID,
		"enqueued":    enqueued,
	})
}

// PauseCampaign 暂停活动，下个调度周期生效
// POST /v1/campaigns/:campaign_id/pause
func PauseCampaign(ctx context.Context, c *app.RequestContext) {
	campaignID, ok := campaignIDParam(ctx, c)
	if !ok {
		return
	}

	if err := campaignService.Pause(ctx, campaignID); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{"campaign_id": campaignID})
}

// ResumeCampaign 恢复暂停的活动
// POST /v1/campaigns/:campaign_id/resume
func ResumeCampaign(ctx context.Context, c *app.RequestContext) {
	campaignID, ok := campaignIDParam(ctx, c)
	if !ok {
		return
	}

	if err := campaignService.Resume(ctx, campaignID); err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, map[string]interface{}{"campaign_id": campaignID})
}

func campaignIDParam(ctx context.Context, c *app.RequestContext) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("campaign_id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(ctx, c, apperrors.CampaignNotFound)
		return 0, false
	}
	return id, true
}

package router

import (
	"github.com/cloudwego/hertz/pkg/app/server"

	"Outcall/internal/handler"
	"Outcall/internal/middleware"
)

func Register(h *server.Hertz) {

	h.Use(middleware.RecoverMiddleware())
	h.Use(middleware.CORSMiddleware())
	h.Use(middleware.OpenTelemetryMiddleware())

	h.GET("/healthz", handler.Healthz)

	v1 := h.Group("/v1")

	// 活动生命周期控制路由，活动的增删改在外部管理端
	campaigns := v1.Group("/campaigns")
	{
		campaigns.POST("/:campaign_id/start", handler.StartCampaign)
		campaigns.POST("/:campaign_id/pause", handler.PauseCampaign)
		campaigns.POST("/:campaign_id/resume", handler.ResumeCampaign)
	}

	// 供应商回调路由
	webhooks := v1.Group("/webhooks")
	{
		webhooks.POST("/vapi", handler.HandleVapiWebhook)
	}
}

package handler

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"

	"Outcall/storage/database"
)

// Healthz 健康检查，带数据库连通性探测
// GET /healthz
func Healthz(ctx context.Context, c *app.RequestContext) {
	if err := database.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, map[string]interface{}{"status": "ok"})
}

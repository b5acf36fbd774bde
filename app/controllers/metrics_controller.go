package controllers

import (
	"net/http"

	"github.com/beego/beego/v2/server/web"
)

// MetricsController 指标控制器
type MetricsController struct {
	web.Controller
}

// Metrics GET /metrics 返回Prometheus格式的指标
func (c *MetricsController) Metrics() {
	if registry.Metrics == nil {
		c.Ctx.Output.SetStatus(http.StatusServiceUnavailable)
		return
	}
	registry.Metrics.ServeHTTP(c.Ctx.ResponseWriter, c.Ctx.Request)
}

package controllers

import (
	"net/http"
	"time"
)

// AnalyticsController 运营分析控制器
type AnalyticsController struct {
	BaseController
}

// Summary GET /api/analytics/summary
// start/end 为 YYYY-MM-DD，缺省为最近7天
func (c *AnalyticsController) Summary() {
	end := time.Now()
	start := end.AddDate(0, 0, -7)

	if value := c.GetString("start"); value != "" {
		parsed, err := time.Parse("2006-01-02", value)
		if err != nil {
			c.JSONError(http.StatusBadRequest, "start日期格式错误")
			return
		}
		start = parsed
	}
	if value := c.GetString("end"); value != "" {
		parsed, err := time.Parse("2006-01-02", value)
		if err != nil {
			c.JSONError(http.StatusBadRequest, "end日期格式错误")
			return
		}
		// end取当天结束
		end = parsed.AddDate(0, 0, 1)
	}
	if !start.Before(end) {
		c.JSONError(http.StatusBadRequest, "start必须早于end")
		return
	}

	summary, err := registry.Analytics.GetSummary(c.Ctx.Request.Context(), start, end)
	if err != nil {
		c.JSONAppError(err, "获取统计数据失败")
		return
	}

	c.JSONSuccess(summary)
}

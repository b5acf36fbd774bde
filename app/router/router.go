package router

import (
	"github.com/beego/beego/v2/server/web"

	"github.com/aihub/support-agent/app/controllers"
	"github.com/aihub/support-agent/app/middleware"
	"github.com/aihub/support-agent/internal/config"
)

// Init registers all routes. Must be called after config is loaded.
func Init() {
	web.Router("/", &controllers.RootController{}, "get:Index")
	web.Router("/health", &controllers.HealthController{}, "get:Health")

	web.InsertFilter("/*", web.BeforeRouter, middleware.CORSMiddleware)

	// 问答路由
	chatController := &controllers.ChatController{}
	web.Router("/api/chat", chatController, "post:Ask")
	web.Router("/api/chat/:conversation_id/history", chatController, "get:History")

	// 文档管理路由
	// 注意：具体路由必须在参数路由之前，否则/formats会被:id匹配
	documentController := &controllers.DocumentController{}
	web.Router("/api/documents", documentController, "get:List;post:Create")
	web.Router("/api/documents/formats", documentController, "get:Formats")
	web.Router("/api/documents/upload", documentController, "post:Upload")
	web.Router("/api/documents/:id", documentController, "get:Get;delete:Delete")

	// 运营分析路由
	analyticsController := &controllers.AnalyticsController{}
	web.Router("/api/analytics/summary", analyticsController, "get:Summary")

	// Prometheus指标
	if config.AppConfig != nil && config.AppConfig.Prometheus.Enabled {
		web.Router("/metrics", &controllers.MetricsController{}, "get:Metrics")
	}
}

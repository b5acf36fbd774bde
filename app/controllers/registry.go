package controllers

import (
	"github.com/aihub/support-agent/internal/knowledge"
	"github.com/aihub/support-agent/internal/services"
)

// Beego按请求反射创建控制器实例，服务依赖通过包级注册表注入，
// 由bootstrap在启动时填充
var registry struct {
	Support       *services.SupportService
	Documents     *services.DocumentService
	Conversations *services.ConversationService
	Analytics     *services.AnalyticsService
	Metrics       *services.MetricsService
	Generator     knowledge.Generator
}

// SetServices 注册控制器使用的服务实例
func SetServices(
	support *services.SupportService,
	documents *services.DocumentService,
	conversations *services.ConversationService,
	analytics *services.AnalyticsService,
	metrics *services.MetricsService,
	generator knowledge.Generator,
) {
	registry.Support = support
	registry.Documents = documents
	registry.Conversations = conversations
	registry.Analytics = analytics
	registry.Metrics = metrics
	registry.Generator = generator
}

package controllers

import (
	"context"
	"time"

	"github.com/aihub/support-agent/internal/database"
)

// RootController 根控制器
type RootController struct {
	BaseController
}

// Index GET /
func (c *RootController) Index() {
	c.JSONSuccess(map[string]interface{}{
		"service": "support-agent",
		"status":  "running",
	})
}

// HealthController 健康检查控制器
type HealthController struct {
	BaseController
}

// Health GET /health
func (c *HealthController) Health() {
	ctx, cancel := context.WithTimeout(c.Ctx.Request.Context(), 2*time.Second)
	defer cancel()

	components := map[string]string{
		"database": "ok",
		"redis":    "disabled",
	}
	healthy := true

	if database.DB == nil {
		components["database"] = "down"
		healthy = false
	} else if sqlDB, err := database.DB.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		components["database"] = "down"
		healthy = false
	}

	if database.RedisClient != nil {
		components["redis"] = "ok"
		if err := database.RedisClient.Ping(ctx).Err(); err != nil {
			components["redis"] = "down"
		}
	}

	if registry.Generator != nil && registry.Generator.Ready() {
		components["generator"] = "ok"
	} else {
		components["generator"] = "unconfigured"
	}

	status := "healthy"
	code := 200
	if !healthy {
		status = "unhealthy"
		code = 503
	}

	c.JSON(code, map[string]interface{}{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().Unix(),
	})
}

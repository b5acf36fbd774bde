package controllers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aihub/support-agent/internal/logger"
	"github.com/aihub/support-agent/internal/models"
	"go.uber.org/zap"
)

// ChatController 问答控制器
type ChatController struct {
	BaseController
}

// ChatRequest 提问请求体
type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
}

// Ask POST /api/chat
func (c *ChatController) Ask() {
	var req ChatRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "请求参数错误")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.ConversationID == "" || req.Query == "" {
		c.JSONError(http.StatusBadRequest, "conversation_id和query不能为空")
		return
	}

	result, err := registry.Support.AnswerQuery(c.Ctx.Request.Context(), req.ConversationID, req.Query)
	if err != nil {
		logger.Error("Answer query failed",
			zap.String("conversation_id", req.ConversationID),
			zap.String("ip", c.getClientIP()),
			zap.Error(err))
		c.JSONAppError(err, "问答处理失败")
		return
	}

	c.JSONSuccess(result)
}

// History GET /api/chat/:conversation_id/history
func (c *ChatController) History() {
	conversationID := c.GetString(":conversation_id")
	if conversationID == "" {
		c.JSONError(http.StatusBadRequest, "缺少必要参数")
		return
	}
	limit, _ := c.GetInt("limit", 50)

	messages, err := registry.Conversations.GetHistoryByExternalID(c.Ctx.Request.Context(), conversationID, limit)
	if err != nil {
		c.JSONAppError(err, "获取会话历史失败")
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"conversation_id": conversationID,
		"messages":        formatHistory(messages),
	})
}

func formatHistory(messages []models.ConversationMessage) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(messages))
	for _, message := range messages {
		entry := map[string]interface{}{
			"role":       message.Role,
			"content":    message.Content,
			"created_at": message.CreatedAt,
		}
		if message.Role == models.RoleAssistant {
			entry["confidence"] = message.Confidence
			entry["escalated"] = message.Escalated
			if message.EscalationReason != "" {
				entry["escalation_reason"] = message.EscalationReason
			}
			if message.CitedChunkIDs != "" {
				var cited []uint
				if err := json.Unmarshal([]byte(message.CitedChunkIDs), &cited); err == nil {
					entry["cited_chunk_ids"] = cited
				}
			}
		}
		out = append(out, entry)
	}
	return out
}

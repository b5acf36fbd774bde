package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/aihub/support-agent/internal/errors"
	"github.com/aihub/support-agent/internal/logger"
	"github.com/aihub/support-agent/internal/models"
	"go.uber.org/zap"
)

// ConversationService 对话存储服务
// 历史按时间升序返回（最新在最后），与提示词拼装顺序一致
type ConversationService struct {
	db *gorm.DB
}

// NewConversationService 创建对话存储服务
func NewConversationService(db *gorm.DB) *ConversationService {
	return &ConversationService{db: db}
}

// AssistantTurn assistant消息的附加信息
type AssistantTurn struct {
	CitedChunkIDs    []uint
	Confidence       float64
	Escalated        bool
	EscalationReason string
}

// GetOrCreate 按外部会话ID取会话，不存在则创建
func (s *ConversationService) GetOrCreate(ctx context.Context, externalID string) (*models.Conversation, error) {
	if externalID == "" {
		return nil, apperrors.NewInvalidInputError("conversation_id", "must not be empty")
	}

	var conversation models.Conversation
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&conversation).Error
	if err == nil {
		return &conversation, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	conversation = models.Conversation{
		ExternalID: externalID,
		CreateTime: time.Now(),
		UpdateTime: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&conversation).Error; err != nil {
		return nil, err
	}

	logger.Info("Created new conversation",
		zap.Uint("conversation_id", conversation.ID),
		zap.String("external_id", externalID))
	return &conversation, nil
}

// AppendUserTurn 追加一条用户消息
func (s *ConversationService) AppendUserTurn(ctx context.Context, conversationID uint, content string) (*models.ConversationMessage, error) {
	return s.appendTurn(ctx, conversationID, models.RoleUser, content, nil)
}

// AppendAssistantTurn 追加一条assistant消息，附带引用与转人工信息
func (s *ConversationService) AppendAssistantTurn(ctx context.Context, conversationID uint, content string, turn AssistantTurn) (*models.ConversationMessage, error) {
	return s.appendTurn(ctx, conversationID, models.RoleAssistant, content, &turn)
}

func (s *ConversationService) appendTurn(ctx context.Context, conversationID uint, role, content string, turn *AssistantTurn) (*models.ConversationMessage, error) {
	message := models.ConversationMessage{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if turn != nil {
		if len(turn.CitedChunkIDs) > 0 {
			cited, err := json.Marshal(turn.CitedChunkIDs)
			if err != nil {
				return nil, err
			}
			message.CitedChunkIDs = string(cited)
		}
		message.Confidence = turn.Confidence
		message.Escalated = turn.Escalated
		message.EscalationReason = turn.EscalationReason
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&message).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			Update("update_time", time.Now()).Error
	})
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// GetHistory 返回会话最近limit条消息，时间升序
func (s *ConversationService) GetHistory(ctx context.Context, conversationID uint, limit int) ([]models.ConversationMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	var messages []models.ConversationMessage
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	// 倒序查询取到最近的limit条，再反转回时间升序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// GetHistoryByExternalID 按外部会话ID查历史
func (s *ConversationService) GetHistoryByExternalID(ctx context.Context, externalID string, limit int) ([]models.ConversationMessage, error) {
	var conversation models.Conversation
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&conversation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("conversation")
		}
		return nil, err
	}
	return s.GetHistory(ctx, conversation.ID, limit)
}

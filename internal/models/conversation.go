package models

import (
	"time"
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation 对话会话
type Conversation struct {
	ID         uint      `gorm:"primaryKey;column:id" json:"id"`
	ExternalID string    `gorm:"column:external_id;size:64;not null;uniqueIndex" json:"external_id"`
	CreateTime time.Time `gorm:"column:create_time" json:"create_time"`
	UpdateTime time.Time `gorm:"column:update_time" json:"update_time"`

	Messages []ConversationMessage `gorm:"foreignKey:ConversationID" json:"-"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// ConversationMessage 对话消息表
// CitedChunkIDs 为JSON数组，仅assistant消息携带引用与转人工信息
type ConversationMessage struct {
	ID               uint      `gorm:"primaryKey;column:id" json:"id"`
	ConversationID   uint      `gorm:"column:conversation_id;not null;index" json:"conversation_id"`
	Role             string    `gorm:"column:role;size:20;not null" json:"role"`
	Content          string    `gorm:"type:text;not null" json:"content"`
	CitedChunkIDs    string    `gorm:"type:json;column:cited_chunk_ids" json:"cited_chunk_ids,omitempty"`
	Confidence       float64   `gorm:"column:confidence;default:0" json:"confidence,omitempty"`
	Escalated        bool      `gorm:"column:escalated;default:false" json:"escalated"`
	EscalationReason string    `gorm:"column:escalation_reason;size:40" json:"escalation_reason,omitempty"`
	CreatedAt        time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (ConversationMessage) TableName() string {
	return "conversation_messages"
}

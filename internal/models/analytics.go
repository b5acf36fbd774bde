package models

import (
	"time"
)

// QueryLog 查询日志，用于运营统计
type QueryLog struct {
	ID               uint      `gorm:"primaryKey;column:id" json:"id"`
	ConversationID   uint      `gorm:"column:conversation_id;index" json:"conversation_id"`
	Query            string    `gorm:"type:text;not null" json:"query"`
	BestScore        float64   `gorm:"column:best_score;default:0" json:"best_score"`
	ChunksRetrieved  int       `gorm:"column:chunks_retrieved;default:0" json:"chunks_retrieved"`
	Escalated        bool      `gorm:"column:escalated;default:false" json:"escalated"`
	EscalationReason string    `gorm:"column:escalation_reason;size:40" json:"escalation_reason,omitempty"`
	LatencyMs        int64     `gorm:"column:latency_ms;default:0" json:"latency_ms"`
	CreatedAt        time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (QueryLog) TableName() string {
	return "query_logs"
}

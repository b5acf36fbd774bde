package models

import (
	"time"
)

// 文档处理状态
const (
	DocumentStatusProcessing = "processing"
	DocumentStatusReady      = "ready"
	DocumentStatusFailed     = "failed"
)

// Document 知识库文档
type Document struct {
	DocumentID  uint      `gorm:"primaryKey;column:document_id" json:"document_id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Source      string    `gorm:"size:20;not null" json:"source"`
	FilePath    string    `gorm:"size:500" json:"file_path"`
	ContentHash string    `gorm:"size:64;index" json:"content_hash"`
	CharCount   int       `gorm:"column:char_count;default:0" json:"char_count"`
	ChunkCount  int       `gorm:"column:chunk_count;default:0" json:"chunk_count"`
	Status      string    `gorm:"size:20;default:processing" json:"status"`
	Error       string    `gorm:"type:text" json:"error,omitempty"`
	CreateTime  time.Time `gorm:"column:create_time" json:"create_time"`
	UpdateTime  time.Time `gorm:"column:update_time" json:"update_time"`

	// 关系
	Chunks []DocumentChunk `gorm:"foreignKey:DocumentID" json:"-"`
}

func (Document) TableName() string {
	return "documents"
}

// DocumentChunk 文档分块
// StartOffset/EndOffset 为原文中的rune偏移（左闭右开），用于答案引用定位
type DocumentChunk struct {
	ChunkID     uint      `gorm:"primaryKey;column:chunk_id" json:"chunk_id"`
	DocumentID  uint      `gorm:"column:document_id;not null;index" json:"document_id"`
	Document    Document  `gorm:"foreignKey:DocumentID" json:"-"`
	ChunkIndex  int       `gorm:"not null;index" json:"chunk_index"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	StartOffset int       `gorm:"column:start_offset;not null" json:"start_offset"`
	EndOffset   int       `gorm:"column:end_offset;not null" json:"end_offset"`
	Embedding   string    `gorm:"type:json" json:"-"`
	CreateTime  time.Time `gorm:"column:create_time" json:"create_time"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

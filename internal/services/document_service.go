package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	apperrors "github.com/aihub/support-agent/internal/errors"
	"github.com/aihub/support-agent/internal/models"
)

// DocumentService 文档查询服务
type DocumentService struct {
	db    *gorm.DB
	cache *RedisChunkCache
}

// NewDocumentService 创建文档查询服务
func NewDocumentService(db *gorm.DB, cache *RedisChunkCache) *DocumentService {
	return &DocumentService{db: db, cache: cache}
}

// ListDocuments 分页获取文档列表
func (s *DocumentService) ListDocuments(ctx context.Context, page, limit int) ([]models.Document, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Document{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var documents []models.Document
	err := s.db.WithContext(ctx).
		Order("create_time DESC, document_id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&documents).Error
	if err != nil {
		return nil, 0, err
	}
	return documents, total, nil
}

// GetDocument 按ID获取文档
func (s *DocumentService) GetDocument(ctx context.Context, documentID uint) (*models.Document, error) {
	var document models.Document
	err := s.db.WithContext(ctx).Where("document_id = ?", documentID).First(&document).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("document")
		}
		return nil, err
	}
	return &document, nil
}

// FindByContentHash 按内容hash查文档，用于去重
func (s *DocumentService) FindByContentHash(ctx context.Context, hash string) (*models.Document, error) {
	var document models.Document
	err := s.db.WithContext(ctx).Where("content_hash = ?", hash).First(&document).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &document, nil
}

// GetChunks 按ID批量获取分块，优先走缓存
// 返回顺序与入参chunkIDs一致；数据库中也不存在的ID被跳过
func (s *DocumentService) GetChunks(ctx context.Context, chunkIDs []uint) ([]models.DocumentChunk, error) {
	if len(chunkIDs) == 0 {
		return []models.DocumentChunk{}, nil
	}

	found := make(map[uint]models.DocumentChunk, len(chunkIDs))
	var missing []uint
	for _, id := range chunkIDs {
		if chunk := s.cache.GetChunk(ctx, id); chunk != nil {
			found[id] = *chunk
		} else {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		var chunks []models.DocumentChunk
		if err := s.db.WithContext(ctx).Where("chunk_id IN ?", missing).Find(&chunks).Error; err != nil {
			return nil, err
		}
		for _, chunk := range chunks {
			found[chunk.ChunkID] = chunk
		}
		s.cache.StoreChunks(ctx, chunks)
	}

	result := make([]models.DocumentChunk, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if chunk, ok := found[id]; ok {
			result = append(result, chunk)
		}
	}
	return result, nil
}

// GetDocumentNames 批量获取文档名
func (s *DocumentService) GetDocumentNames(ctx context.Context, documentIDs []uint) (map[uint]string, error) {
	names := make(map[uint]string, len(documentIDs))
	if len(documentIDs) == 0 {
		return names, nil
	}

	var documents []models.Document
	err := s.db.WithContext(ctx).
		Select("document_id", "name").
		Where("document_id IN ?", documentIDs).
		Find(&documents).Error
	if err != nil {
		return nil, err
	}
	for _, document := range documents {
		names[document.DocumentID] = document.Name
	}
	return names, nil
}

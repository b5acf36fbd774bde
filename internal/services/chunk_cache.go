package services

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aihub/support-agent/internal/config"
	"github.com/aihub/support-agent/internal/database"
	"github.com/aihub/support-agent/internal/logger"
	"github.com/aihub/support-agent/internal/models"
	"go.uber.org/zap"
)

// RedisChunkCache 分块内容的Redis缓存
// 检索命中后需要回填分块正文，缓存省去对Postgres的逐块查询
// Redis不可用时所有操作退化为未命中，主流程不受影响
type RedisChunkCache struct {
	client   *redis.Client
	enabled  bool
	ttl      time.Duration
	hitStats *CacheHitStats
}

// CacheHitStats 缓存命中率统计
type CacheHitStats struct {
	hits   int64
	misses int64
	mu     sync.RWMutex
}

func (s *CacheHitStats) recordHit() {
	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
}

func (s *CacheHitStats) recordMiss() {
	s.mu.Lock()
	s.misses++
	s.mu.Unlock()
}

// Snapshot 返回命中与未命中次数
func (s *CacheHitStats) Snapshot() (hits, misses int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hits, s.misses
}

// NewRedisChunkCache 创建分块缓存
func NewRedisChunkCache() *RedisChunkCache {
	cfg := config.AppConfig
	ttl := time.Hour
	if cfg != nil && cfg.Redis.TTL > 0 {
		ttl = time.Duration(cfg.Redis.TTL) * time.Second
	}
	return &RedisChunkCache{
		client:   database.RedisClient,
		enabled:  database.RedisClient != nil,
		ttl:      ttl,
		hitStats: &CacheHitStats{},
	}
}

func (c *RedisChunkCache) chunkKey(chunkID uint) string {
	return fmt.Sprintf("chunk:%d", chunkID)
}

// StoreChunks 批量写入分块内容
func (c *RedisChunkCache) StoreChunks(ctx context.Context, chunks []models.DocumentChunk) {
	if !c.enabled {
		return
	}
	pipe := c.client.Pipeline()
	for _, chunk := range chunks {
		key := c.chunkKey(chunk.ChunkID)
		pipe.HSet(ctx, key, map[string]interface{}{
			"document_id":  chunk.DocumentID,
			"chunk_index":  chunk.ChunkIndex,
			"content":      chunk.Content,
			"start_offset": chunk.StartOffset,
			"end_offset":   chunk.EndOffset,
		})
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("分块缓存写入失败", zap.Error(err))
	}
}

// GetChunk 读取单个分块，未命中返回nil
func (c *RedisChunkCache) GetChunk(ctx context.Context, chunkID uint) *models.DocumentChunk {
	if !c.enabled {
		c.hitStats.recordMiss()
		return nil
	}

	data, err := c.client.HGetAll(ctx, c.chunkKey(chunkID)).Result()
	if err != nil || len(data) == 0 {
		c.hitStats.recordMiss()
		return nil
	}
	c.hitStats.recordHit()

	chunk := &models.DocumentChunk{ChunkID: chunkID, Content: data["content"]}
	if v, err := strconv.ParseUint(data["document_id"], 10, 64); err == nil {
		chunk.DocumentID = uint(v)
	}
	if v, err := strconv.Atoi(data["chunk_index"]); err == nil {
		chunk.ChunkIndex = v
	}
	if v, err := strconv.Atoi(data["start_offset"]); err == nil {
		chunk.StartOffset = v
	}
	if v, err := strconv.Atoi(data["end_offset"]); err == nil {
		chunk.EndOffset = v
	}
	return chunk
}

// InvalidateChunks 按块ID批量失效
func (c *RedisChunkCache) InvalidateChunks(ctx context.Context, chunkIDs []uint) {
	if !c.enabled || len(chunkIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		keys = append(keys, c.chunkKey(id))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logger.Warn("分块缓存失效失败", zap.Error(err))
	}
}

package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	apperrors "github.com/aihub/support-agent/internal/errors"
)

// VectorRecord 向量索引记录
// 创建后不再修改，仅随文档删除级联移除；norm在插入时缓存，避免重复计算
type VectorRecord struct {
	ChunkID    uint
	DocumentID uint
	Embedding  []float32
	norm       float64
}

// SearchMatch 检索命中结果
type SearchMatch struct {
	ChunkID    uint
	DocumentID uint
	Score      float64
}

// VectorIndex 向量索引抽象
// Insert对相同ChunkID是覆盖语义（重新摄取幂等）；Remove不存在的ID是空操作
type VectorIndex interface {
	Insert(ctx context.Context, record VectorRecord) error
	InsertBatch(ctx context.Context, records []VectorRecord) error
	Search(ctx context.Context, queryEmbedding []float32, k int) ([]SearchMatch, error)
	Remove(ctx context.Context, chunkID uint) error
	RemoveDocument(ctx context.Context, documentID uint) error
	Size() int
	Dimensions() int
	Ready() bool
}

// MemoryVectorIndex 内存精确向量索引
// 线性扫描余弦相似度，作为正确性基准实现
// 读多写少：检索共享读锁并发执行，写锁仅覆盖索引变更本身，向量化调用绝不持锁
type MemoryVectorIndex struct {
	mu         sync.RWMutex
	records    map[uint]*VectorRecord
	dimensions int
}

// NewMemoryVectorIndex 创建内存向量索引
// dimensions 必须与Embedder维度一致，不匹配在构造期失败而不是静默截断
func NewMemoryVectorIndex(dimensions int) (*MemoryVectorIndex, error) {
	if dimensions <= 0 {
		return nil, apperrors.NewInvalidConfig("vector index: dimensions must be positive")
	}
	return &MemoryVectorIndex{
		records:    make(map[uint]*VectorRecord),
		dimensions: dimensions,
	}, nil
}

func (idx *MemoryVectorIndex) Insert(ctx context.Context, record VectorRecord) error {
	return idx.InsertBatch(ctx, []VectorRecord{record})
}

// InsertBatch 批量插入，单次写锁内完成
// 一篇文档的所有分块原子可见，查询不会观察到摄取到一半的文档
func (idx *MemoryVectorIndex) InsertBatch(ctx context.Context, records []VectorRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	prepared := make([]*VectorRecord, 0, len(records))
	for _, record := range records {
		if len(record.Embedding) != idx.dimensions {
			return apperrors.NewIndexCorruption(fmt.Sprintf(
				"vector index: chunk %d embedding dimension %d does not match index dimension %d",
				record.ChunkID, len(record.Embedding), idx.dimensions))
		}
		stored := record
		stored.Embedding = make([]float32, len(record.Embedding))
		copy(stored.Embedding, record.Embedding)
		stored.norm = vectorNorm(stored.Embedding)
		prepared = append(prepared, &stored)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, record := range prepared {
		idx.records[record.ChunkID] = record
	}
	return nil
}

// Search 返回相似度最高的k条记录
// 得分为余弦相似度；相同得分按最小ChunkID优先，保证结果可复现
// 零范数向量定义为永不命中，而不是触发除零
func (idx *MemoryVectorIndex) Search(ctx context.Context, queryEmbedding []float32, k int) ([]SearchMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []SearchMatch{}, nil
	}
	if len(queryEmbedding) != idx.dimensions {
		return nil, apperrors.NewIndexCorruption(fmt.Sprintf(
			"vector index: query dimension %d does not match index dimension %d",
			len(queryEmbedding), idx.dimensions))
	}

	queryNorm := vectorNorm(queryEmbedding)

	idx.mu.RLock()
	matches := make([]SearchMatch, 0, len(idx.records))
	if queryNorm > 0 {
		for _, record := range idx.records {
			if record.norm == 0 {
				continue
			}
			var dot float64
			for i := range queryEmbedding {
				dot += float64(queryEmbedding[i]) * float64(record.Embedding[i])
			}
			matches = append(matches, SearchMatch{
				ChunkID:    record.ChunkID,
				DocumentID: record.DocumentID,
				Score:      dot / (queryNorm * record.norm),
			})
		}
	}
	idx.mu.RUnlock()

	sortMatchesByScore(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (idx *MemoryVectorIndex) Remove(ctx context.Context, chunkID uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx.mu.Lock()
	delete(idx.records, chunkID)
	idx.mu.Unlock()
	return nil
}

// RemoveDocument 按文档ID级联删除其所有分块向量
func (idx *MemoryVectorIndex) RemoveDocument(ctx context.Context, documentID uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx.mu.Lock()
	for chunkID, record := range idx.records {
		if record.DocumentID == documentID {
			delete(idx.records, chunkID)
		}
	}
	idx.mu.Unlock()
	return nil
}

func (idx *MemoryVectorIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.records)
}

func (idx *MemoryVectorIndex) Ready() bool {
	return true
}

// Dimensions 返回索引固定维度
func (idx *MemoryVectorIndex) Dimensions() int {
	return idx.dimensions
}

func sortMatchesByScore(matches []SearchMatch) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ChunkID < matches[j].ChunkID
		}
		return matches[i].Score > matches[j].Score
	})
}

func vectorNorm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

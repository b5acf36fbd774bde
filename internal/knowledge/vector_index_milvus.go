package knowledge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	apperrors "github.com/aihub/support-agent/internal/errors"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Collection string
	Dimensions int
	Database   string
	UseTLS     bool
	Timeout    time.Duration
}

// milvusVectorIndex Milvus向量索引实现
// 承载大语料时替换内存索引；near-neighbors由HNSW近似，精确基准仍是MemoryVectorIndex
type milvusVectorIndex struct {
	milvusClient client.Client
	collection   string
	dimensions   int
	size         atomic.Int64
}

// NewMilvusVectorIndex 创建Milvus向量索引
func NewMilvusVectorIndex(opts MilvusOptions) (VectorIndex, error) {
	if opts.Dimensions <= 0 {
		return nil, apperrors.NewInvalidConfig("milvus index: dimensions must be positive")
	}
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.Collection == "" {
		opts.Collection = "support_chunks"
	}
	if opts.Database == "" {
		opts.Database = "default"
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	milvusClient, err := client.NewClient(ctx, client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	idx := &milvusVectorIndex{
		milvusClient: milvusClient,
		collection:   opts.Collection,
		dimensions:   opts.Dimensions,
	}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (s *milvusVectorIndex) ensureCollection(ctx context.Context) error {
	hasCollection, err := s.milvusClient.HasCollection(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if hasCollection {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: s.collection,
		Description:    "support agent chunk vectors",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeInt64,
				PrimaryKey: true,
				AutoID:     false,
			},
			{
				Name:     "document_id",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "vector",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", s.dimensions),
				},
			},
		},
	}

	if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	var index entity.Index
	index, err = entity.NewIndexHNSW(entity.COSINE, 8, 64)
	if err != nil {
		index, err = entity.NewIndexIvfFlat(entity.COSINE, 128)
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	if err := s.milvusClient.CreateIndex(ctx, s.collection, "vector", index, false); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	return nil
}

func (s *milvusVectorIndex) Insert(ctx context.Context, record VectorRecord) error {
	return s.InsertBatch(ctx, []VectorRecord{record})
}

func (s *milvusVectorIndex) InsertBatch(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	chunkIDs := make([]int64, len(records))
	documentIDs := make([]int64, len(records))
	vectors := make([][]float32, len(records))
	for i, record := range records {
		if len(record.Embedding) != s.dimensions {
			return apperrors.NewIndexCorruption(fmt.Sprintf(
				"milvus index: chunk %d embedding dimension %d does not match index dimension %d",
				record.ChunkID, len(record.Embedding), s.dimensions))
		}
		chunkIDs[i] = int64(record.ChunkID)
		documentIDs[i] = int64(record.DocumentID)
		vectors[i] = record.Embedding
	}

	_, err := s.milvusClient.Upsert(ctx, s.collection, "",
		entity.NewColumnInt64("chunk_id", chunkIDs),
		entity.NewColumnInt64("document_id", documentIDs),
		entity.NewColumnFloatVector("vector", s.dimensions, vectors),
	)
	if err != nil {
		return fmt.Errorf("milvus upsert failed: %w", err)
	}
	if err := s.milvusClient.Flush(ctx, s.collection, false); err != nil {
		return fmt.Errorf("milvus flush failed: %w", err)
	}
	s.size.Add(int64(len(records)))
	return nil
}

func (s *milvusVectorIndex) Search(ctx context.Context, queryEmbedding []float32, k int) ([]SearchMatch, error) {
	if k <= 0 {
		return []SearchMatch{}, nil
	}
	if len(queryEmbedding) != s.dimensions {
		return nil, apperrors.NewIndexCorruption(fmt.Sprintf(
			"milvus index: query dimension %d does not match index dimension %d",
			len(queryEmbedding), s.dimensions))
	}

	if err := s.milvusClient.LoadCollection(ctx, s.collection, false); err != nil {
		return nil, fmt.Errorf("milvus load collection failed: %w", err)
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	searchResults, err := s.milvusClient.Search(
		ctx,
		s.collection,
		[]string{},
		"",
		[]string{"chunk_id", "document_id"},
		[]entity.Vector{entity.FloatVector(queryEmbedding)},
		"vector",
		entity.COSINE,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}
	if len(searchResults) == 0 {
		return []SearchMatch{}, nil
	}
	result := searchResults[0]
	if result.Err != nil {
		return nil, fmt.Errorf("milvus search error: %w", result.Err)
	}

	var chunkIDs, documentIDs []int64
	for _, field := range result.Fields {
		switch field.Name() {
		case "chunk_id":
			if col, ok := field.(*entity.ColumnInt64); ok {
				chunkIDs = col.Data()
			}
		case "document_id":
			if col, ok := field.(*entity.ColumnInt64); ok {
				documentIDs = col.Data()
			}
		}
	}

	matches := make([]SearchMatch, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		match := SearchMatch{}
		if i < len(chunkIDs) {
			match.ChunkID = uint(chunkIDs[i])
		}
		if i < len(documentIDs) {
			match.DocumentID = uint(documentIDs[i])
		}
		if i < len(result.Scores) {
			match.Score = float64(result.Scores[i])
		}
		matches = append(matches, match)
	}

	// Milvus对同分结果不保证顺序，重排以保持与内存索引一致的确定性
	sortMatchesByScore(matches)
	return matches, nil
}

func (s *milvusVectorIndex) Remove(ctx context.Context, chunkID uint) error {
	expr := fmt.Sprintf("chunk_id == %d", chunkID)
	if err := s.milvusClient.Delete(ctx, s.collection, "", expr); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}
	return nil
}

func (s *milvusVectorIndex) RemoveDocument(ctx context.Context, documentID uint) error {
	expr := fmt.Sprintf("document_id == %d", documentID)
	if err := s.milvusClient.Delete(ctx, s.collection, "", expr); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}
	return nil
}

// Size 返回插入计数的近似值
// Milvus的精确行数需要flush+query统计，这里只用于指标展示
func (s *milvusVectorIndex) Size() int {
	return int(s.size.Load())
}

// Dimensions 返回集合向量维度
func (s *milvusVectorIndex) Dimensions() int {
	return s.dimensions
}

func (s *milvusVectorIndex) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}

package knowledge

import (
	"context"
	"strings"

	apperrors "github.com/aihub/support-agent/internal/errors"
)

// 检索候选池相对topK的放大倍数
// 得分过滤可能削减结果，先取更大的候选集再截断
const candidatePoolFactor = 4

// Retriever 查询检索器
// 串联查询向量化与索引检索，并按相似度阈值过滤
type Retriever struct {
	embedder Embedder
	index    VectorIndex
}

// NewRetriever 创建检索器
// Embedder与索引维度不一致视为配置错误
func NewRetriever(embedder Embedder, index VectorIndex) (*Retriever, error) {
	if embedder == nil || index == nil {
		return nil, apperrors.NewInvalidConfig("retriever: embedder and index are required")
	}
	if embedder.Dimensions() > 0 && index.Dimensions() != embedder.Dimensions() {
		return nil, apperrors.NewInvalidConfig("retriever: embedder and index dimensions do not match")
	}
	return &Retriever{embedder: embedder, index: index}, nil
}

// Retrieve 检索与查询最相关的分块
// 空语料或全部低于阈值时返回空结果而不是错误，下游将其视为"无可用上下文"
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, minScore float64) ([]SearchMatch, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.NewInvalidInputError("query", "must not be empty")
	}
	if topK <= 0 {
		topK = 5
	}
	if r.index.Size() == 0 {
		return []SearchMatch{}, nil
	}

	// 向量化调用不持任何索引锁
	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := r.index.Search(ctx, embedding, topK*candidatePoolFactor)
	if err != nil {
		return nil, err
	}

	filtered := make([]SearchMatch, 0, topK)
	for _, match := range matches {
		if match.Score < minScore {
			continue
		}
		filtered = append(filtered, match)
		if len(filtered) == topK {
			break
		}
	}
	return filtered, nil
}

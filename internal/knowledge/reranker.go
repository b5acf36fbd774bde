package knowledge

import (
	"context"
	"sort"
	"strings"

	apperrors "github.com/aihub/support-agent/internal/errors"
)

// Reranker 候选重排序接口
// 在候选池截断为最终topK之前，对查询与命中分块逐对重新打分
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []ScoredChunk) ([]ScoredChunk, error)
	Ready() bool
}

// NoopReranker 默认占位实现
type NoopReranker struct{}

func (n *NoopReranker) Rerank(ctx context.Context, query string, candidates []ScoredChunk) ([]ScoredChunk, error) {
	// 不进行重排序，保持向量检索顺序
	return candidates, nil
}

func (n *NoopReranker) Ready() bool {
	return false
}

// TermOverlapReranker 无外部依赖的重排序器
// 将向量相似度与查询词条覆盖率线性混合：
// blended = (1-weight)*vectorScore + weight*overlap
// 覆盖率 = 分块命中的查询去重词条数 / 查询去重词条总数
type TermOverlapReranker struct {
	weight float64
}

// NewTermOverlapReranker 创建词条覆盖率重排序器
// weight 为词条覆盖率权重，必须在 [0, 1] 区间
func NewTermOverlapReranker(weight float64) (*TermOverlapReranker, error) {
	if weight < 0 || weight > 1 {
		return nil, apperrors.NewInvalidConfig("reranker: weight must be between 0 and 1")
	}
	return &TermOverlapReranker{weight: weight}, nil
}

// Rerank 重新打分并按混合得分降序排列
// 相同得分按最小ChunkID优先，保证结果可复现
func (r *TermOverlapReranker) Rerank(ctx context.Context, query string, candidates []ScoredChunk) ([]ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	terms := queryTerms(query)
	reranked := make([]ScoredChunk, len(candidates))
	copy(reranked, candidates)

	for i := range reranked {
		overlap := termOverlap(terms, reranked[i].Text)
		reranked[i].Score = (1-r.weight)*reranked[i].Score + r.weight*overlap
	}

	sort.Slice(reranked, func(i, j int) bool {
		if reranked[i].Score == reranked[j].Score {
			return reranked[i].ChunkID < reranked[j].ChunkID
		}
		return reranked[i].Score > reranked[j].Score
	})
	return reranked, nil
}

func (r *TermOverlapReranker) Ready() bool {
	return true
}

// queryTerms 提取查询的去重小写词条
func queryTerms(query string) map[string]bool {
	terms := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(query)) {
		field = strings.Trim(field, ".,!?;:\"'()")
		if field != "" {
			terms[field] = true
		}
	}
	return terms
}

// termOverlap 计算分块文本对查询词条的覆盖率
func termOverlap(terms map[string]bool, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hit := 0
	for term := range terms {
		if strings.Contains(lower, term) {
			hit++
		}
	}
	return float64(hit) / float64(len(terms))
}

package knowledge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/support-agent/internal/errors"
)

func TestNewTermOverlapReranker_InvalidWeight(t *testing.T) {
	_, err := NewTermOverlapReranker(-0.1)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))

	_, err = NewTermOverlapReranker(1.1)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))
}

func TestTermOverlapReranker_PromotesLexicalMatch(t *testing.T) {
	reranker, err := NewTermOverlapReranker(0.5)
	require.NoError(t, err)

	// 向量得分领先但与查询词条无关的候选，应被词条全覆盖的候选超越
	candidates := []ScoredChunk{
		{ChunkID: 1, Text: "shipping times vary by region", Score: 0.80},
		{ChunkID: 2, Text: "to reset your password open account settings", Score: 0.70},
	}

	reranked, err := reranker.Rerank(context.Background(), "reset password", candidates)
	require.NoError(t, err)
	require.Len(t, reranked, 2)
	assert.Equal(t, uint(2), reranked[0].ChunkID)
	assert.Equal(t, uint(1), reranked[1].ChunkID)

	// 原始切片不被修改
	assert.Equal(t, 0.80, candidates[0].Score)
}

func TestTermOverlapReranker_Deterministic(t *testing.T) {
	reranker, err := NewTermOverlapReranker(0.3)
	require.NoError(t, err)

	candidates := []ScoredChunk{
		{ChunkID: 3, Text: "refund policy overview", Score: 0.6},
		{ChunkID: 1, Text: "refund policy overview", Score: 0.6},
		{ChunkID: 2, Text: "refund policy overview", Score: 0.6},
	}

	first, err := reranker.Rerank(context.Background(), "refund policy", candidates)
	require.NoError(t, err)
	second, err := reranker.Rerank(context.Background(), "refund policy", candidates)
	require.NoError(t, err)

	// 同分按最小ChunkID优先，两次调用结果一致
	assert.Equal(t, first, second)
	assert.Equal(t, uint(1), first[0].ChunkID)
	assert.Equal(t, uint(2), first[1].ChunkID)
	assert.Equal(t, uint(3), first[2].ChunkID)
}

func TestTermOverlapReranker_EmptyCandidates(t *testing.T) {
	reranker, err := NewTermOverlapReranker(0.3)
	require.NoError(t, err)

	reranked, err := reranker.Rerank(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Empty(t, reranked)
}

func TestTermOverlapReranker_CancelledContext(t *testing.T) {
	reranker, err := NewTermOverlapReranker(0.3)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = reranker.Rerank(ctx, "anything", []ScoredChunk{{ChunkID: 1, Score: 0.5}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNoopReranker_KeepsOrder(t *testing.T) {
	reranker := &NoopReranker{}
	candidates := []ScoredChunk{
		{ChunkID: 2, Score: 0.9},
		{ChunkID: 1, Score: 0.8},
	}

	reranked, err := reranker.Rerank(context.Background(), "query", candidates)
	require.NoError(t, err)
	assert.Equal(t, candidates, reranked)
	assert.False(t, reranker.Ready())
}

package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/support-agent/internal/errors"
)

func TestNewContextAssembler_InvalidConfig(t *testing.T) {
	_, err := NewContextAssembler(0)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))

	a, err := NewContextAssembler(1000)
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestContextAssembler_Empty(t *testing.T) {
	a, err := NewContextAssembler(1000)
	require.NoError(t, err)

	contextText, citations := a.Assemble(nil)
	assert.Equal(t, "", contextText)
	assert.Empty(t, citations)
}

func TestContextAssembler_OrderAndCitations(t *testing.T) {
	a, err := NewContextAssembler(4000)
	require.NoError(t, err)

	chunks := []ScoredChunk{
		{ChunkID: 2, DocumentID: 1, DocumentName: "faq.md", Text: "second", Start: 100, End: 106, Score: 0.7},
		{ChunkID: 1, DocumentID: 1, DocumentName: "faq.md", Text: "first", Start: 0, End: 5, Score: 0.9},
		{ChunkID: 3, DocumentID: 2, DocumentName: "policy.md", Text: "third", Start: 0, End: 5, Score: 0.5},
	}
	contextText, citations := a.Assemble(chunks)

	// 按得分降序拼接，引用顺序与上下文一致
	require.Len(t, citations, 3)
	assert.Equal(t, uint(1), citations[0].ChunkID)
	assert.Equal(t, uint(2), citations[1].ChunkID)
	assert.Equal(t, uint(3), citations[2].ChunkID)
	assert.Equal(t, 0, citations[0].CharStart)
	assert.Equal(t, 5, citations[0].CharEnd)
	assert.False(t, citations[0].Truncated)

	// 片段头包含来源标注
	assert.Contains(t, contextText, "[Snippet 1 | Doc: faq.md | doc_id=1 | chunk_id=1 | score=0.9000]")
	assert.Contains(t, contextText, "[Snippet 3 | Doc: policy.md | doc_id=2 | chunk_id=3 | score=0.5000]")
	assert.Less(t, strings.Index(contextText, "first"), strings.Index(contextText, "second"))
	assert.Equal(t, 2, strings.Count(contextText, sectionSeparator))
}

func TestContextAssembler_TieBreakByChunkID(t *testing.T) {
	a, err := NewContextAssembler(4000)
	require.NoError(t, err)

	chunks := []ScoredChunk{
		{ChunkID: 9, DocumentID: 1, DocumentName: "a.md", Text: "nine", Score: 0.8},
		{ChunkID: 4, DocumentID: 1, DocumentName: "a.md", Text: "four", Score: 0.8},
	}
	_, citations := a.Assemble(chunks)
	require.Len(t, citations, 2)
	assert.Equal(t, uint(4), citations[0].ChunkID)
	assert.Equal(t, uint(9), citations[1].ChunkID)
}

func TestContextAssembler_DropsLowestScoreFirst(t *testing.T) {
	// 预算只够两个块，最低分的块被整块丢弃
	chunks := []ScoredChunk{
		{ChunkID: 1, DocumentID: 1, DocumentName: "a.md", Text: strings.Repeat("a", 100), Score: 0.9},
		{ChunkID: 2, DocumentID: 1, DocumentName: "a.md", Text: strings.Repeat("b", 100), Score: 0.8},
		{ChunkID: 3, DocumentID: 1, DocumentName: "a.md", Text: strings.Repeat("c", 100), Score: 0.7},
	}
	a, err := NewContextAssembler(350)
	require.NoError(t, err)

	contextText, citations := a.Assemble(chunks)
	require.Len(t, citations, 2)
	assert.Equal(t, uint(1), citations[0].ChunkID)
	assert.Equal(t, uint(2), citations[1].ChunkID)
	assert.NotContains(t, contextText, "ccc")
	// 保留的块完整出现，不被中途截断
	assert.Contains(t, contextText, strings.Repeat("a", 100))
	assert.Contains(t, contextText, strings.Repeat("b", 100))
}

func TestContextAssembler_TruncatesSingleOversizedChunk(t *testing.T) {
	// 连最高分块都超出预算时硬截断，并在引用中标记
	chunks := []ScoredChunk{
		{ChunkID: 1, DocumentID: 1, DocumentName: "big.md", Text: strings.Repeat("x", 500), Start: 1000, End: 1500, Score: 0.9},
		{ChunkID: 2, DocumentID: 1, DocumentName: "big.md", Text: "small", Score: 0.5},
	}
	a, err := NewContextAssembler(200)
	require.NoError(t, err)

	contextText, citations := a.Assemble(chunks)
	require.Len(t, citations, 1)
	assert.Equal(t, uint(1), citations[0].ChunkID)
	assert.True(t, citations[0].Truncated)
	assert.Equal(t, 1000, citations[0].CharStart)
	assert.Less(t, citations[0].CharEnd, 1500)
	assert.LessOrEqual(t, len([]rune(contextText)), 200)
	assert.NotContains(t, contextText, "small")
}

func TestContextAssembler_Deterministic(t *testing.T) {
	a, err := NewContextAssembler(1000)
	require.NoError(t, err)

	chunks := []ScoredChunk{
		{ChunkID: 3, DocumentID: 1, DocumentName: "a.md", Text: "gamma", Score: 0.5},
		{ChunkID: 1, DocumentID: 1, DocumentName: "a.md", Text: "alpha", Score: 0.9},
		{ChunkID: 2, DocumentID: 1, DocumentName: "a.md", Text: "beta", Score: 0.7},
	}
	firstText, firstCitations := a.Assemble(chunks)
	for i := 0; i < 5; i++ {
		text, citations := a.Assemble(chunks)
		assert.Equal(t, firstText, text)
		assert.Equal(t, firstCitations, citations)
	}
}

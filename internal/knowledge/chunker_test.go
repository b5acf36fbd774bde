package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aihub/support-agent/internal/errors"
)

func TestNewChunker_InvalidConfig(t *testing.T) {
	// 非法配置在构造期失败
	_, err := NewChunker(0, 0)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))

	_, err = NewChunker(100, -1)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))

	_, err = NewChunker(100, 100)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))

	c, err := NewChunker(100, 0)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestChunker_Split_EmptyInput(t *testing.T) {
	c, err := NewChunker(500, 50)
	require.NoError(t, err)

	// 空输入也产出一个空块，保证下游至少有一条记录
	chunks := c.Split("")
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 0, chunks[0].End)
	assert.Equal(t, "", chunks[0].Text)
}

func TestChunker_Split_ShortInput(t *testing.T) {
	c, err := NewChunker(500, 50)
	require.NoError(t, err)

	chunks := c.Split("hello world")
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 11, chunks[0].End)
}

func TestChunker_Split_NoSeparators(t *testing.T) {
	c, err := NewChunker(500, 50)
	require.NoError(t, err)

	// 3000个无边界字符：步长为450，产生7个块
	text := strings.Repeat("a", 3000)
	chunks := c.Split(text)
	require.Len(t, chunks, 7)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		if i > 0 {
			// 每块开头重复前一块末尾50个字符
			assert.Equal(t, chunks[i-1].End-50, chunk.Start)
		}
	}
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, 2700, chunks[6].Start)
	assert.Equal(t, 3000, chunks[6].End)
}

func TestChunker_Split_Coverage(t *testing.T) {
	c, err := NewChunker(120, 20)
	require.NoError(t, err)

	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
	runes := []rune(text)
	chunks := c.Split(text)
	require.NotEmpty(t, chunks)

	// 块区间完整覆盖源文本且无空洞
	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(runes), chunks[len(chunks)-1].End)
	for i := 1; i < len(chunks); i++ {
		assert.LessOrEqual(t, chunks[i].Start, chunks[i-1].End,
			"chunk %d must not leave a gap", i)
		assert.Greater(t, chunks[i].End, chunks[i-1].End,
			"chunk %d must advance", i)
	}

	// Text与区间一致
	for _, chunk := range chunks {
		assert.Equal(t, string(runes[chunk.Start:chunk.End]), chunk.Text)
		assert.LessOrEqual(t, chunk.End-chunk.Start, 120)
	}
}

func TestChunker_Split_PrefersSentenceBoundary(t *testing.T) {
	c, err := NewChunker(100, 10)
	require.NoError(t, err)

	// 第80个字符附近有句子边界，应在边界处切分而不是硬切
	text := strings.Repeat("x", 78) + ". " + strings.Repeat("y", 200)
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, 80, chunks[0].End)
	assert.True(t, strings.HasSuffix(chunks[0].Text, ". "))
}

func TestChunker_Split_BoundaryTooEarlyFallsBackToHardCut(t *testing.T) {
	c, err := NewChunker(100, 10)
	require.NoError(t, err)

	// 唯一边界落在窗口40%之前，不采用，退化为硬切
	text := strings.Repeat("x", 20) + ". " + strings.Repeat("y", 300)
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, 100, chunks[0].End)
}

func TestChunker_Split_Deterministic(t *testing.T) {
	c, err := NewChunker(200, 30)
	require.NoError(t, err)

	text := strings.Repeat("Refunds are processed within 5 business days.\n", 30)
	first := c.Split(text)
	second := c.Split(text)
	assert.Equal(t, first, second)
}

func TestChunker_Split_MultiByte(t *testing.T) {
	c, err := NewChunker(50, 5)
	require.NoError(t, err)

	// 偏移按rune计数，多字节字符不会被劈开
	text := strings.Repeat("退款会在五个工作日内处理。", 20)
	runes := []rune(text)
	chunks := c.Split(text)
	for _, chunk := range chunks {
		assert.Equal(t, string(runes[chunk.Start:chunk.End]), chunk.Text)
	}
	assert.Equal(t, len(runes), chunks[len(chunks)-1].End)
}

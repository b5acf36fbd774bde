package knowledge

import (
	"strings"

	apperrors "github.com/aihub/support-agent/internal/errors"
)

// Chunk 表示分块后的文本结构
// Start/End 为源文本中的rune偏移（左闭右开），相邻块在重叠区间内共享文本
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// 分块边界分隔符，按优先级排列
var chunkSeparators = []string{".\n", ". ", "。", "\n", " "}

// Chunker 文本分块器
type Chunker struct {
	maxChars     int
	overlapChars int
}

// NewChunker 创建分块器
// maxChars 必须大于 overlapChars，且 overlapChars >= 0
func NewChunker(maxChars, overlapChars int) (*Chunker, error) {
	if maxChars <= 0 {
		return nil, apperrors.NewInvalidConfig("chunker: max_chars must be positive")
	}
	if overlapChars < 0 {
		return nil, apperrors.NewInvalidConfig("chunker: overlap_chars must not be negative")
	}
	if overlapChars >= maxChars {
		return nil, apperrors.NewInvalidConfig("chunker: overlap_chars must be less than max_chars")
	}
	return &Chunker{
		maxChars:     maxChars,
		overlapChars: overlapChars,
	}, nil
}

// Split 将文本切分为多个chunk
// 保证：块区间完整覆盖源文本且无空洞；除首块外每块开头重复前一块末尾
// overlapChars 个字符；相同输入与配置产生完全相同的结果
func (c *Chunker) Split(text string) []Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return []Chunk{{Index: 0, Text: "", Start: 0, End: 0}}
	}

	var chunks []Chunk
	start := 0
	for {
		end := start + c.maxChars
		if end >= n {
			end = n
		} else {
			end = c.boundaryEnd(runes, start, end)
		}

		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})

		if end >= n {
			break
		}
		start = end - c.overlapChars
	}

	return chunks
}

// boundaryEnd 在窗口内从后向前寻找最近的句子/段落边界
// 边界必须落在窗口的40%之后，且保证前进量大于重叠区，否则退化为硬切
func (c *Chunker) boundaryEnd(runes []rune, start, hardEnd int) int {
	window := string(runes[start:hardEnd])

	minOffset := c.maxChars * 2 / 5
	if minOffset <= c.overlapChars {
		minOffset = c.overlapChars + 1
	}

	for _, sep := range chunkSeparators {
		idx := strings.LastIndex(window, sep)
		if idx < 0 {
			continue
		}
		cut := len([]rune(window[:idx])) + len([]rune(sep))
		if cut > minOffset && start+cut < hardEnd {
			return start + cut
		}
	}
	return hardEnd
}

// MaxChars 返回单块字符上限
func (c *Chunker) MaxChars() int {
	return c.maxChars
}

// OverlapChars 返回块间重叠字符数
func (c *Chunker) OverlapChars() int {
	return c.overlapChars
}

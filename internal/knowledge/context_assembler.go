package knowledge

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/aihub/support-agent/internal/errors"
)

// ScoredChunk 待拼接的分块，已从存储层补全文本与来源信息
type ScoredChunk struct {
	ChunkID      uint
	DocumentID   uint
	DocumentName string
	Text         string
	Start        int
	End          int
	Score        float64
}

// Citation 引用信息，随答案返回给调用方
type Citation struct {
	ChunkID      uint    `json:"chunk_id"`
	DocumentID   uint    `json:"document_id"`
	DocumentName string  `json:"document_name"`
	CharStart    int     `json:"char_start"`
	CharEnd      int     `json:"char_end"`
	Score        float64 `json:"score"`
	Truncated    bool    `json:"truncated,omitempty"`
}

// ContextAssembler 上下文拼接器
// 按得分降序拼接分块并附带引用标记，受最大字符数约束
type ContextAssembler struct {
	maxContextChars int
}

// NewContextAssembler 创建上下文拼接器
func NewContextAssembler(maxContextChars int) (*ContextAssembler, error) {
	if maxContextChars <= 0 {
		return nil, apperrors.NewInvalidConfig("context assembler: max_context_chars must be positive")
	}
	return &ContextAssembler{maxContextChars: maxContextChars}, nil
}

// Assemble 将检索结果拼接为送入大模型的上下文
// 超出预算时从得分最低的块开始整块丢弃，绝不从中间截断
// 唯一例外：连得分最高的单块都放不下时，对其做硬截断并在引用中标记
// 相同输入产生相同输出
func (a *ContextAssembler) Assemble(chunks []ScoredChunk) (string, []Citation) {
	if len(chunks) == 0 {
		return "", []Citation{}
	}

	ordered := make([]ScoredChunk, len(chunks))
	copy(ordered, chunks)
	sortChunksByScore(ordered)

	var sections []string
	citations := make([]Citation, 0, len(ordered))
	used := 0

	for i, chunk := range ordered {
		section, runeCount := a.renderSection(i+1, chunk, chunk.Text)
		sep := 0
		if len(sections) > 0 {
			sep = len([]rune(sectionSeparator))
		}

		if used+sep+runeCount > a.maxContextChars {
			if len(sections) > 0 {
				// 预算耗尽，丢弃余下更低分的块
				break
			}
			// 最高分块单独超限：硬截断
			budget := a.maxContextChars
			header := sectionHeader(1, chunk)
			headerRunes := len([]rune(header)) + 1
			bodyBudget := budget - headerRunes
			if bodyBudget < 0 {
				bodyBudget = 0
			}
			body := []rune(chunk.Text)
			if len(body) > bodyBudget {
				body = body[:bodyBudget]
			}
			sections = append(sections, header+"\n"+string(body))
			citations = append(citations, Citation{
				ChunkID:      chunk.ChunkID,
				DocumentID:   chunk.DocumentID,
				DocumentName: chunk.DocumentName,
				CharStart:    chunk.Start,
				CharEnd:      chunk.Start + len(body),
				Score:        chunk.Score,
				Truncated:    true,
			})
			break
		}

		sections = append(sections, section)
		citations = append(citations, Citation{
			ChunkID:      chunk.ChunkID,
			DocumentID:   chunk.DocumentID,
			DocumentName: chunk.DocumentName,
			CharStart:    chunk.Start,
			CharEnd:      chunk.End,
			Score:        chunk.Score,
		})
		used += sep + runeCount
	}

	return strings.Join(sections, sectionSeparator), citations
}

const sectionSeparator = "\n\n---\n\n"

func sectionHeader(position int, chunk ScoredChunk) string {
	return fmt.Sprintf("[Snippet %d | Doc: %s | doc_id=%d | chunk_id=%d | score=%.4f]",
		position, chunk.DocumentName, chunk.DocumentID, chunk.ChunkID, chunk.Score)
}

func (a *ContextAssembler) renderSection(position int, chunk ScoredChunk, body string) (string, int) {
	section := sectionHeader(position, chunk) + "\n" + body
	return section, len([]rune(section))
}

// 与索引检索相同的排序约定：得分降序，同分按ChunkID升序
func sortChunksByScore(chunks []ScoredChunk) {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Score == chunks[j].Score {
			return chunks[i].ChunkID < chunks[j].ChunkID
		}
		return chunks[i].Score > chunks[j].Score
	})
}

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/aihub/support-agent/internal/knowledge"
	"github.com/aihub/support-agent/internal/models"
	"github.com/aihub/support-agent/internal/storage"
)

// promauto指标只能在默认registry里注册一次，测试共用同一个实例
var (
	testMetricsOnce sync.Once
	testMetrics     *MetricsService
)

func sharedMetrics() *MetricsService {
	testMetricsOnce.Do(func() {
		testMetrics = NewMetricsService()
	})
	return testMetrics
}

// stubGenerator 固定返回预设结果的生成器
type stubGenerator struct {
	result knowledge.GenerationResult
	err    error
	calls  int
}

func (g *stubGenerator) Generate(ctx context.Context, req knowledge.GenerationRequest) (knowledge.GenerationResult, error) {
	g.calls++
	if g.err != nil {
		return knowledge.GenerationResult{}, g.err
	}
	return g.result, nil
}

func (g *stubGenerator) Ready() bool { return true }

const testDims = 32

func newTestSupportService(t *testing.T, db *gorm.DB, generator knowledge.Generator) *SupportService {
	t.Helper()
	return newTestSupportServiceWith(t, db, generator, nil)
}

func newTestSupportServiceWith(t *testing.T, db *gorm.DB, generator knowledge.Generator, adjust func(*SupportServiceDeps)) *SupportService {
	t.Helper()

	embedder, err := knowledge.NewLocalEmbedder(testDims)
	require.NoError(t, err)
	index, err := knowledge.NewMemoryVectorIndex(testDims)
	require.NoError(t, err)
	chunker, err := knowledge.NewChunker(500, 50)
	require.NoError(t, err)
	assembler, err := knowledge.NewContextAssembler(6000)
	require.NoError(t, err)
	gate, err := knowledge.NewEscalationGate(0.3, 0.55, nil)
	require.NoError(t, err)
	objectStore, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	deps := SupportServiceDeps{
		DB:            db,
		Storage:       objectStore,
		Chunker:       chunker,
		Embedder:      embedder,
		Index:         index,
		Assembler:     assembler,
		Generator:     generator,
		Gate:          gate,
		Conversations: NewConversationService(db),
		Documents:     NewDocumentService(db, NewRedisChunkCache()),
		Analytics:     NewAnalyticsService(db),
		Cache:         NewRedisChunkCache(),
		Metrics:       sharedMetrics(),
	}
	if adjust != nil {
		adjust(&deps)
	}

	service, err := NewSupportService(deps)
	require.NoError(t, err)
	return service
}

func TestNewSupportService_Defaults(t *testing.T) {
	service := newTestSupportService(t, nil, &knowledge.NoopGenerator{})

	// TopK、候选池与MaxParallel未指定时使用默认值
	assert.Equal(t, 5, service.topK)
	assert.Equal(t, 20, service.candidateTopK)
	assert.Equal(t, 4, service.maxParallel)
}

func TestSupportService_EmbedChunks_PreservesOrder(t *testing.T) {
	service := newTestSupportService(t, nil, &knowledge.NoopGenerator{})

	// 超过两个批次，验证并发向量化后顺序不乱
	chunks := make([]knowledge.Chunk, 40)
	for i := range chunks {
		chunks[i] = knowledge.Chunk{Index: i, Text: fmt.Sprintf("chunk number %d about refunds", i)}
	}

	embeddings, err := service.embedChunks(context.Background(), chunks)
	require.NoError(t, err)
	require.Len(t, embeddings, len(chunks))

	for i, chunk := range chunks {
		want, err := service.embedder.Embed(context.Background(), chunk.Text)
		require.NoError(t, err)
		assert.Equal(t, want, embeddings[i], "embedding at index %d", i)
	}
}

func TestSupportService_EmbedChunks_CancelledContext(t *testing.T) {
	service := newTestSupportService(t, nil, &knowledge.NoopGenerator{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := service.embedChunks(ctx, []knowledge.Chunk{{Text: "hello"}})
	assert.Error(t, err)
}

// expectUserTurn 追加消息的事务：插入消息并刷新会话时间
func expectTurn(mock sqlmock.Sqlmock, messageID int64) {
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "conversation_messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(messageID))
	mock.ExpectExec(`UPDATE "conversations" SET "update_time"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func expectQueryLog(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "query_logs"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()
}

func TestSupportService_AnswerQuery_NoContext(t *testing.T) {
	db, mock := newMockDB(t)
	generator := &stubGenerator{}
	service := newTestSupportService(t, db, generator)

	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE external_id =`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_id"}).AddRow(1, "session-1"))
	mock.ExpectQuery(`SELECT \* FROM "conversation_messages" WHERE conversation_id =`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	expectTurn(mock, 1) // 用户消息
	expectTurn(mock, 2) // assistant消息
	expectQueryLog(mock)

	// 空索引下任何问题都检索不到上下文
	result, err := service.AnswerQuery(context.Background(), "session-1", "How do refunds work?")
	require.NoError(t, err)

	assert.Equal(t, noContextAnswer, result.Answer)
	assert.True(t, result.Escalate)
	assert.Equal(t, string(knowledge.ReasonNoContextFound), result.Reason)
	assert.Zero(t, result.BestScore)
	assert.Empty(t, result.Citations)
	// 没有上下文时不应调用生成器
	assert.Zero(t, generator.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSupportService_AnswerQuery_AnswersFromIndex(t *testing.T) {
	db, mock := newMockDB(t)
	generator := &stubGenerator{result: knowledge.GenerationResult{
		Answer:        "Refunds are processed within 5 business days.",
		Confidence:    0.9,
		HasConfidence: true,
	}}
	service := newTestSupportService(t, db, generator)

	// 预置一条与提问几乎相同的分块，保证检索得分足够高
	docText := "How do refunds work? Refunds are processed within 5 business days."
	embedding, err := service.embedder.Embed(context.Background(), docText)
	require.NoError(t, err)
	require.NoError(t, service.index.InsertBatch(context.Background(), []knowledge.VectorRecord{
		{ChunkID: 41, DocumentID: 5, Embedding: embedding},
	}))

	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE external_id =`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_id"}).AddRow(1, "session-1"))
	mock.ExpectQuery(`SELECT \* FROM "conversation_messages" WHERE conversation_id =`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	expectTurn(mock, 1)
	// 回填分块正文与文档名
	mock.ExpectQuery(`SELECT \* FROM "document_chunks" WHERE chunk_id IN`).
		WillReturnRows(sqlmock.NewRows([]string{"chunk_id", "document_id", "chunk_index", "content", "start_offset", "end_offset"}).
			AddRow(41, 5, 0, docText, 0, 66))
	mock.ExpectQuery(`SELECT "document_id","name" FROM "documents" WHERE document_id IN`).
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "name"}).AddRow(5, "refund-policy.md"))
	expectTurn(mock, 2)
	expectQueryLog(mock)

	result, err := service.AnswerQuery(context.Background(), "session-1", docText)
	require.NoError(t, err)

	assert.Equal(t, "Refunds are processed within 5 business days.", result.Answer)
	assert.False(t, result.Escalate)
	assert.Empty(t, result.Reason)
	assert.InDelta(t, 0.9, result.Confidence, 1e-9)
	assert.Greater(t, result.BestScore, 0.9)
	require.Len(t, result.Citations, 1)
	assert.Equal(t, uint(41), result.Citations[0].ChunkID)
	assert.Equal(t, "refund-policy.md", result.Citations[0].DocumentName)
	assert.Equal(t, 1, generator.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSupportService_AnswerQuery_GeneratorFailureDegrades(t *testing.T) {
	db, mock := newMockDB(t)
	generator := &stubGenerator{err: errors.New("upstream timeout")}
	service := newTestSupportService(t, db, generator)

	docText := "Shipping takes 3 days within the EU."
	embedding, err := service.embedder.Embed(context.Background(), docText)
	require.NoError(t, err)
	require.NoError(t, service.index.InsertBatch(context.Background(), []knowledge.VectorRecord{
		{ChunkID: 7, DocumentID: 2, Embedding: embedding},
	}))

	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE external_id =`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_id"}).AddRow(1, "session-1"))
	mock.ExpectQuery(`SELECT \* FROM "conversation_messages" WHERE conversation_id =`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	expectTurn(mock, 1)
	mock.ExpectQuery(`SELECT \* FROM "document_chunks" WHERE chunk_id IN`).
		WillReturnRows(sqlmock.NewRows([]string{"chunk_id", "document_id", "chunk_index", "content", "start_offset", "end_offset"}).
			AddRow(7, 2, 0, docText, 0, 36))
	mock.ExpectQuery(`SELECT "document_id","name" FROM "documents" WHERE document_id IN`).
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "name"}).AddRow(2, "shipping.md"))
	expectTurn(mock, 2)
	expectQueryLog(mock)

	// 生成失败不向调用方报错，降级为固定回复并转人工
	result, err := service.AnswerQuery(context.Background(), "session-1", docText)
	require.NoError(t, err)

	assert.Equal(t, generatorFailureAnswer, result.Answer)
	assert.True(t, result.Escalate)
	assert.Equal(t, string(knowledge.ReasonModelSignal), result.Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// reverseReranker 反转候选顺序，或按预设失败
type reverseReranker struct {
	err error
}

func (r *reverseReranker) Rerank(ctx context.Context, query string, candidates []knowledge.ScoredChunk) ([]knowledge.ScoredChunk, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]knowledge.ScoredChunk, len(candidates))
	for i, candidate := range candidates {
		out[len(candidates)-1-i] = candidate
	}
	return out, nil
}

func (r *reverseReranker) Ready() bool { return true }

func TestSupportService_AnswerQuery_RerankReordersBeforeTruncation(t *testing.T) {
	db, mock := newMockDB(t)
	generator := &stubGenerator{result: knowledge.GenerationResult{
		Answer:        "You can return items within 30 days.",
		Confidence:    0.9,
		HasConfidence: true,
	}}
	// 重排序反转候选顺序，topK=1时截断应保留重排后的第一名
	service := newTestSupportServiceWith(t, db, generator, func(deps *SupportServiceDeps) {
		deps.TopK = 1
		deps.Reranker = &reverseReranker{}
	})

	query := "How do returns work for damaged items?"
	first, err := service.embedder.Embed(context.Background(), query)
	require.NoError(t, err)
	second, err := service.embedder.Embed(context.Background(), query+" and refunds")
	require.NoError(t, err)
	require.NoError(t, service.index.InsertBatch(context.Background(), []knowledge.VectorRecord{
		{ChunkID: 1, DocumentID: 9, Embedding: first},
		{ChunkID: 2, DocumentID: 9, Embedding: second},
	}))

	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE external_id =`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_id"}).AddRow(1, "session-1"))
	mock.ExpectQuery(`SELECT \* FROM "conversation_messages" WHERE conversation_id =`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	expectTurn(mock, 1)
	mock.ExpectQuery(`SELECT \* FROM "document_chunks" WHERE chunk_id IN`).
		WillReturnRows(sqlmock.NewRows([]string{"chunk_id", "document_id", "chunk_index", "content", "start_offset", "end_offset"}).
			AddRow(1, 9, 0, "returns text", 0, 12).
			AddRow(2, 9, 1, "refunds text", 12, 24))
	mock.ExpectQuery(`SELECT "document_id","name" FROM "documents" WHERE document_id IN`).
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "name"}).AddRow(9, "returns.md"))
	expectTurn(mock, 2)
	expectQueryLog(mock)

	result, err := service.AnswerQuery(context.Background(), "session-1", query)
	require.NoError(t, err)

	// 向量序第一名是chunk 1，反转后chunk 2进入上下文
	require.Len(t, result.Citations, 1)
	assert.Equal(t, uint(2), result.Citations[0].ChunkID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSupportService_AnswerQuery_RerankFailureFallsBack(t *testing.T) {
	db, mock := newMockDB(t)
	generator := &stubGenerator{result: knowledge.GenerationResult{
		Answer:        "Returns are accepted within 30 days.",
		Confidence:    0.9,
		HasConfidence: true,
	}}
	service := newTestSupportServiceWith(t, db, generator, func(deps *SupportServiceDeps) {
		deps.Reranker = &reverseReranker{err: errors.New("rerank backend down")}
	})

	docText := "Returns are accepted within 30 days of purchase."
	embedding, err := service.embedder.Embed(context.Background(), docText)
	require.NoError(t, err)
	require.NoError(t, service.index.InsertBatch(context.Background(), []knowledge.VectorRecord{
		{ChunkID: 3, DocumentID: 4, Embedding: embedding},
	}))

	mock.ExpectQuery(`SELECT \* FROM "conversations" WHERE external_id =`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "external_id"}).AddRow(1, "session-1"))
	mock.ExpectQuery(`SELECT \* FROM "conversation_messages" WHERE conversation_id =`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	expectTurn(mock, 1)
	mock.ExpectQuery(`SELECT \* FROM "document_chunks" WHERE chunk_id IN`).
		WillReturnRows(sqlmock.NewRows([]string{"chunk_id", "document_id", "chunk_index", "content", "start_offset", "end_offset"}).
			AddRow(3, 4, 0, docText, 0, 48))
	mock.ExpectQuery(`SELECT "document_id","name" FROM "documents" WHERE document_id IN`).
		WillReturnRows(sqlmock.NewRows([]string{"document_id", "name"}).AddRow(4, "returns.md"))
	expectTurn(mock, 2)
	expectQueryLog(mock)

	// 重排序失败不影响应答，退回向量顺序
	result, err := service.AnswerQuery(context.Background(), "session-1", "How do returns work?")
	require.NoError(t, err)

	assert.Equal(t, "Returns are accepted within 30 days.", result.Answer)
	require.Len(t, result.Citations, 1)
	assert.Equal(t, uint(3), result.Citations[0].ChunkID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSupportService_AnswerQuery_EmptyConversationID(t *testing.T) {
	db, _ := newMockDB(t)
	service := newTestSupportService(t, db, &knowledge.NoopGenerator{})

	_, err := service.AnswerQuery(context.Background(), "", "hello")
	assert.Error(t, err)
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, contentHash("hello"), contentHash("hello"))
	assert.NotEqual(t, contentHash("hello"), contentHash("hello "))
	assert.Len(t, contentHash("hello"), 64)
}

func TestToHistoryTurns(t *testing.T) {
	assert.Empty(t, toHistoryTurns(nil))

	turns := toHistoryTurns([]models.ConversationMessage{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
	})
	require.Len(t, turns, 2)
	assert.Equal(t, knowledge.HistoryTurn{Role: "user", Text: "hi"}, turns[0])
	assert.Equal(t, knowledge.HistoryTurn{Role: "assistant", Text: "hello"}, turns[1])
}

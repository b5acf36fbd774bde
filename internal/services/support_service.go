package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	apperrors "github.com/aihub/support-agent/internal/errors"
	"github.com/aihub/support-agent/internal/kafka"
	"github.com/aihub/support-agent/internal/knowledge"
	"github.com/aihub/support-agent/internal/logger"
	"github.com/aihub/support-agent/internal/models"
	"github.com/aihub/support-agent/internal/storage"
	"go.uber.org/zap"
)

// 单次embedding请求携带的分块数上限
const embedBatchSize = 16

// 注入生成器的历史轮数上限
const historyTurnsForPrompt = 6

// 检索不到任何上下文时的固定回复
const noContextAnswer = "I couldn't find this in our documentation. " +
	"I'm escalating your question to a human agent who will follow up with you."

// 生成服务不可用时的固定回复
const generatorFailureAnswer = "I'm sorry, I'm unable to answer right now. " +
	"I'm escalating your question to a human agent."

// SupportService 问答流水线编排
// 文档摄取与查询应答共用一套chunker/embedder/index配置，
// 保证查询向量与索引向量来自同一语义空间
type SupportService struct {
	db            *gorm.DB
	storage       storage.ObjectStorage
	parser        *knowledge.FileParserManager
	chunker       *knowledge.Chunker
	embedder      knowledge.Embedder
	index         knowledge.VectorIndex
	retriever     *knowledge.Retriever
	reranker      knowledge.Reranker
	assembler     *knowledge.ContextAssembler
	generator     knowledge.Generator
	gate          *knowledge.EscalationGate
	conversations *ConversationService
	documents     *DocumentService
	analytics     *AnalyticsService
	cache         *RedisChunkCache
	metrics       *MetricsService

	topK          int
	candidateTopK int
	maxParallel   int
}

// SupportServiceDeps 流水线依赖
type SupportServiceDeps struct {
	DB            *gorm.DB
	Storage       storage.ObjectStorage
	Chunker       *knowledge.Chunker
	Embedder      knowledge.Embedder
	Index         knowledge.VectorIndex
	Reranker      knowledge.Reranker
	Assembler     *knowledge.ContextAssembler
	Generator     knowledge.Generator
	Gate          *knowledge.EscalationGate
	Conversations *ConversationService
	Documents     *DocumentService
	Analytics     *AnalyticsService
	Cache         *RedisChunkCache
	Metrics       *MetricsService
	TopK          int
	CandidateTopK int
	MaxParallel   int
}

// NewSupportService 创建问答流水线
func NewSupportService(deps SupportServiceDeps) (*SupportService, error) {
	retriever, err := knowledge.NewRetriever(deps.Embedder, deps.Index)
	if err != nil {
		return nil, err
	}
	if deps.TopK <= 0 {
		deps.TopK = 5
	}
	if deps.CandidateTopK <= 0 {
		deps.CandidateTopK = 20
	}
	if deps.CandidateTopK < deps.TopK {
		deps.CandidateTopK = deps.TopK
	}
	if deps.MaxParallel <= 0 {
		deps.MaxParallel = 4
	}
	if deps.Reranker == nil {
		deps.Reranker = &knowledge.NoopReranker{}
	}

	return &SupportService{
		db:            deps.DB,
		storage:       deps.Storage,
		parser:        knowledge.NewFileParserManager(),
		chunker:       deps.Chunker,
		embedder:      deps.Embedder,
		index:         deps.Index,
		retriever:     retriever,
		reranker:      deps.Reranker,
		assembler:     deps.Assembler,
		generator:     deps.Generator,
		gate:          deps.Gate,
		conversations: deps.Conversations,
		documents:     deps.Documents,
		analytics:     deps.Analytics,
		cache:         deps.Cache,
		metrics:       deps.Metrics,
		topK:          deps.TopK,
		candidateTopK: deps.CandidateTopK,
		maxParallel:   deps.MaxParallel,
	}, nil
}

// SupportedFormats 返回可上传的文件扩展名
func (s *SupportService) SupportedFormats() []string {
	return s.parser.SupportedFormats()
}

// IngestUpload 解析上传文件并摄取
// 原始文件保留一份到对象存储
func (s *SupportService) IngestUpload(ctx context.Context, filename string, data []byte) (*models.Document, error) {
	text, err := s.parser.ParseFile(bytes.NewReader(data), filename)
	if err != nil {
		return nil, err
	}

	document, err := s.IngestDocument(ctx, filename, "upload", text)
	if err != nil {
		return nil, err
	}

	objectKey := fmt.Sprintf("documents/%d/%s", document.DocumentID, filename)
	if err := s.storage.Put(ctx, objectKey, data, ""); err != nil {
		logger.Warn("原始文件归档失败", zap.String("file", filename), zap.Error(err))
	} else {
		s.db.WithContext(ctx).Model(document).Update("file_path", objectKey)
		document.FilePath = objectKey
	}
	return document, nil
}

// IngestDocument 将文本摄取进知识库
// 重复内容（hash相同）直接返回既有文档；同名文档重新摄取时替换旧版本。
// 分块向量经单次InsertBatch写入索引，查询不会看到摄取一半的文档
func (s *SupportService) IngestDocument(ctx context.Context, name, source, text string) (*models.Document, error) {
	if name == "" {
		return nil, apperrors.NewInvalidInputError("name", "must not be empty")
	}

	hash := contentHash(text)
	if existing, err := s.documents.FindByContentHash(ctx, hash); err != nil {
		return nil, err
	} else if existing != nil && existing.Status == models.DocumentStatusReady {
		logger.Info("Document content unchanged, skipping ingest",
			zap.Uint("document_id", existing.DocumentID), zap.String("name", name))
		return existing, nil
	}

	// 同名旧版本先下线
	var stale models.Document
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&stale).Error
	switch {
	case err == nil:
		if err := s.DeleteDocument(ctx, stale.DocumentID); err != nil {
			return nil, err
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	document := &models.Document{
		Name:        name,
		Source:      source,
		ContentHash: hash,
		CharCount:   len([]rune(text)),
		Status:      models.DocumentStatusProcessing,
		CreateTime:  time.Now(),
		UpdateTime:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(document).Error; err != nil {
		return nil, err
	}

	chunks := s.chunker.Split(text)
	embeddings, err := s.embedChunks(ctx, chunks)
	if err != nil {
		s.markFailed(ctx, document, err)
		return nil, err
	}

	// 先落库拿到分块ID，再写向量索引
	rows := make([]models.DocumentChunk, len(chunks))
	for i, chunk := range chunks {
		embeddingJSON, err := json.Marshal(embeddings[i])
		if err != nil {
			s.markFailed(ctx, document, err)
			return nil, err
		}
		rows[i] = models.DocumentChunk{
			DocumentID:  document.DocumentID,
			ChunkIndex:  chunk.Index,
			Content:     chunk.Text,
			StartOffset: chunk.Start,
			EndOffset:   chunk.End,
			Embedding:   string(embeddingJSON),
			CreateTime:  time.Now(),
		}
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, 100).Error; err != nil {
		s.markFailed(ctx, document, err)
		return nil, err
	}

	records := make([]knowledge.VectorRecord, len(rows))
	for i, row := range rows {
		records[i] = knowledge.VectorRecord{
			ChunkID:    row.ChunkID,
			DocumentID: row.DocumentID,
			Embedding:  embeddings[i],
		}
	}
	if err := s.index.InsertBatch(ctx, records); err != nil {
		s.markFailed(ctx, document, err)
		return nil, err
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":      models.DocumentStatusReady,
		"chunk_count": len(rows),
		"update_time": now,
	}
	if err := s.db.WithContext(ctx).Model(document).Updates(updates).Error; err != nil {
		return nil, err
	}
	document.Status = models.DocumentStatusReady
	document.ChunkCount = len(rows)
	document.UpdateTime = now

	s.cache.StoreChunks(ctx, rows)
	s.metrics.RecordIngest()
	s.metrics.SetIndexSize(s.index.Size())
	kafka.PublishEvent(&kafka.AuditEvent{
		Type:       kafka.EventDocumentIngested,
		DocumentID: document.DocumentID,
		ChunkCount: len(rows),
	})

	logger.Info("Document ingested",
		zap.Uint("document_id", document.DocumentID),
		zap.String("name", name),
		zap.Int("chunks", len(rows)))
	return document, nil
}

// embedChunks 分批并发向量化，批次内顺序与chunks一致
func (s *SupportService) embedChunks(ctx context.Context, chunks []knowledge.Chunk) ([][]float32, error) {
	embeddings := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxParallel)
	for start := 0; start < len(chunks); start += embedBatchSize {
		start := start
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := start; i < end; i++ {
				texts[i-start] = chunks[i].Text
			}
			vectors, err := s.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			for i, vector := range vectors {
				embeddings[start+i] = vector
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return embeddings, nil
}

func (s *SupportService) markFailed(ctx context.Context, document *models.Document, cause error) {
	updates := map[string]interface{}{
		"status":      models.DocumentStatusFailed,
		"error":       cause.Error(),
		"update_time": time.Now(),
	}
	if err := s.db.WithContext(ctx).Model(document).Updates(updates).Error; err != nil {
		logger.Error("文档状态更新失败", zap.Uint("document_id", document.DocumentID), zap.Error(err))
	}
}

// DeleteDocument 删除文档及其分块、向量与缓存
func (s *SupportService) DeleteDocument(ctx context.Context, documentID uint) error {
	document, err := s.documents.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	var chunkIDs []uint
	err = s.db.WithContext(ctx).Model(&models.DocumentChunk{}).
		Where("document_id = ?", documentID).
		Pluck("chunk_id", &chunkIDs).Error
	if err != nil {
		return err
	}

	// 先删数据库再删索引：事务失败时索引仍能检索到分块，
	// 反序则会留下入库但不可检索的分块，直到下次重建
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&models.DocumentChunk{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Document{}, documentID).Error
	})
	if err != nil {
		return err
	}

	if err := s.index.RemoveDocument(ctx, documentID); err != nil {
		return err
	}
	s.cache.InvalidateChunks(ctx, chunkIDs)

	if document.FilePath != "" {
		if err := s.storage.Delete(ctx, document.FilePath); err != nil {
			logger.Warn("原始文件删除失败", zap.String("path", document.FilePath), zap.Error(err))
		}
	}

	s.metrics.SetIndexSize(s.index.Size())
	kafka.PublishEvent(&kafka.AuditEvent{
		Type:       kafka.EventDocumentDeleted,
		DocumentID: documentID,
	})

	logger.Info("Document deleted",
		zap.Uint("document_id", documentID),
		zap.Int("chunks_removed", len(chunkIDs)))
	return nil
}

// RebuildIndex 从数据库恢复向量索引
// 向量在摄取时已持久化，重启后无需重新向量化
func (s *SupportService) RebuildIndex(ctx context.Context) error {
	const batchSize = 500

	var lastID uint
	total := 0
	for {
		var rows []models.DocumentChunk
		err := s.db.WithContext(ctx).
			Where("chunk_id > ?", lastID).
			Order("chunk_id ASC").
			Limit(batchSize).
			Find(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			break
		}

		records := make([]knowledge.VectorRecord, 0, len(rows))
		for _, row := range rows {
			var embedding []float32
			if err := json.Unmarshal([]byte(row.Embedding), &embedding); err != nil {
				logger.Warn("分块向量损坏，跳过",
					zap.Uint("chunk_id", row.ChunkID), zap.Error(err))
				continue
			}
			records = append(records, knowledge.VectorRecord{
				ChunkID:    row.ChunkID,
				DocumentID: row.DocumentID,
				Embedding:  embedding,
			})
		}
		if err := s.index.InsertBatch(ctx, records); err != nil {
			return err
		}
		total += len(records)
		lastID = rows[len(rows)-1].ChunkID
	}

	s.metrics.SetIndexSize(s.index.Size())
	logger.Info("Vector index rebuilt", zap.Int("chunks", total))
	return nil
}

// AnswerResult 问答结果
type AnswerResult struct {
	ConversationID string               `json:"conversation_id"`
	Answer         string               `json:"answer"`
	Escalate       bool                 `json:"escalate_to_human"`
	Reason         string               `json:"escalation_reason,omitempty"`
	Confidence     float64              `json:"confidence"`
	BestScore      float64              `json:"best_score"`
	Citations      []knowledge.Citation `json:"citations"`
}

// AnswerQuery 应答一条用户提问
// 检索、生成、转人工判定依次执行；生成失败不报错给调用方，
// 而是降级为固定回复并转人工
func (s *SupportService) AnswerQuery(ctx context.Context, conversationExternalID, query string) (*AnswerResult, error) {
	started := time.Now()

	conversation, err := s.conversations.GetOrCreate(ctx, conversationExternalID)
	if err != nil {
		return nil, err
	}

	// 历史在追加本轮提问前读取，提示词中不重复当前问题
	history, err := s.conversations.GetHistory(ctx, conversation.ID, historyTurnsForPrompt)
	if err != nil {
		return nil, err
	}
	if _, err := s.conversations.AppendUserTurn(ctx, conversation.ID, query); err != nil {
		return nil, err
	}

	// 先取较大候选池，重排序后再截断到topK
	matches, err := s.retriever.Retrieve(ctx, query, s.candidateTopK, s.gate.MinScore())
	if err != nil {
		return nil, err
	}

	bestScore := 0.0
	if len(matches) > 0 {
		bestScore = matches[0].Score
	}

	var (
		answer     string
		confidence float64
		citations  = []knowledge.Citation{}
		genResult  knowledge.GenerationResult
	)

	if len(matches) == 0 {
		answer = noContextAnswer
	} else {
		scored, err := s.loadScoredChunks(ctx, matches)
		if err != nil {
			return nil, err
		}
		if reranked, rerankErr := s.reranker.Rerank(ctx, query, scored); rerankErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			// 重排序失败退回向量顺序
			logger.Warn("Rerank failed, falling back to vector order", zap.Error(rerankErr))
		} else {
			scored = reranked
		}
		if len(scored) > s.topK {
			scored = scored[:s.topK]
		}
		contextText, assembled := s.assembler.Assemble(scored)
		citations = assembled

		genResult, err = s.generator.Generate(ctx, knowledge.GenerationRequest{
			Query:   query,
			Context: contextText,
			History: toHistoryTurns(history),
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			// 生成失败降级处理，模型侧视为请求转人工
			logger.Error("Answer generation failed", zap.Error(err))
			genResult = knowledge.GenerationResult{
				Answer:   generatorFailureAnswer,
				Escalate: true,
			}
		}
		answer = genResult.Answer
		confidence = genResult.Confidence
	}

	decision := s.gate.Decide(knowledge.EscalationInput{
		Query:         query,
		HasResults:    len(matches) > 0,
		BestScore:     bestScore,
		Escalate:      genResult.Escalate,
		Confidence:    genResult.Confidence,
		HasConfidence: genResult.HasConfidence,
	})

	citedIDs := make([]uint, 0, len(citations))
	for _, citation := range citations {
		citedIDs = append(citedIDs, citation.ChunkID)
	}
	_, err = s.conversations.AppendAssistantTurn(ctx, conversation.ID, answer, AssistantTurn{
		CitedChunkIDs:    citedIDs,
		Confidence:       confidence,
		Escalated:        decision.Escalate,
		EscalationReason: string(decision.Reason),
	})
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(started)
	s.analytics.LogQuery(ctx, &models.QueryLog{
		ConversationID:   conversation.ID,
		Query:            query,
		BestScore:        bestScore,
		ChunksRetrieved:  len(matches),
		Escalated:        decision.Escalate,
		EscalationReason: string(decision.Reason),
		LatencyMs:        elapsed.Milliseconds(),
	})
	s.metrics.RecordQuery(decision.Escalate, string(decision.Reason), bestScore, elapsed)

	eventType := kafka.EventQueryAnswered
	if decision.Escalate {
		eventType = kafka.EventQueryEscalated
	}
	kafka.PublishEvent(&kafka.AuditEvent{
		Type:             eventType,
		ConversationID:   conversationExternalID,
		Query:            query,
		Escalated:        decision.Escalate,
		EscalationReason: string(decision.Reason),
		BestScore:        bestScore,
	})

	return &AnswerResult{
		ConversationID: conversationExternalID,
		Answer:         answer,
		Escalate:       decision.Escalate,
		Reason:         string(decision.Reason),
		Confidence:     confidence,
		BestScore:      bestScore,
		Citations:      citations,
	}, nil
}

// loadScoredChunks 回填检索命中分块的正文与来源
func (s *SupportService) loadScoredChunks(ctx context.Context, matches []knowledge.SearchMatch) ([]knowledge.ScoredChunk, error) {
	chunkIDs := make([]uint, len(matches))
	documentIDs := make([]uint, 0, len(matches))
	seenDocs := make(map[uint]bool)
	scoreByChunk := make(map[uint]float64, len(matches))
	for i, match := range matches {
		chunkIDs[i] = match.ChunkID
		scoreByChunk[match.ChunkID] = match.Score
		if !seenDocs[match.DocumentID] {
			seenDocs[match.DocumentID] = true
			documentIDs = append(documentIDs, match.DocumentID)
		}
	}

	chunks, err := s.documents.GetChunks(ctx, chunkIDs)
	if err != nil {
		return nil, err
	}
	names, err := s.documents.GetDocumentNames(ctx, documentIDs)
	if err != nil {
		return nil, err
	}

	scored := make([]knowledge.ScoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		scored = append(scored, knowledge.ScoredChunk{
			ChunkID:      chunk.ChunkID,
			DocumentID:   chunk.DocumentID,
			DocumentName: names[chunk.DocumentID],
			Text:         chunk.Content,
			Start:        chunk.StartOffset,
			End:          chunk.EndOffset,
			Score:        scoreByChunk[chunk.ChunkID],
		})
	}
	return scored, nil
}

func toHistoryTurns(messages []models.ConversationMessage) []knowledge.HistoryTurn {
	turns := make([]knowledge.HistoryTurn, 0, len(messages))
	for _, message := range messages {
		turns = append(turns, knowledge.HistoryTurn{
			Role: message.Role,
			Text: message.Content,
		})
	}
	return turns
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

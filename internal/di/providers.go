package di

import (
	"fmt"

	"go.uber.org/dig"
	"gorm.io/gorm"

	"github.com/aihub/support-agent/internal/config"
	"github.com/aihub/support-agent/internal/database"
	"github.com/aihub/support-agent/internal/knowledge"
	"github.com/aihub/support-agent/internal/services"
	"github.com/aihub/support-agent/internal/storage"
)

// RegisterProviders 注册所有依赖提供者
// 组件按配置选择实现（本地/openai向量化、内存/milvus索引、本地/minio存储），
// 流水线各环节共用同一份Knowledge配置
func RegisterProviders(container *dig.Container) error {
	// 配置
	if err := container.Provide(func() (*config.Config, error) {
		if config.AppConfig == nil {
			return nil, fmt.Errorf("config not loaded")
		}
		return config.AppConfig, nil
	}); err != nil {
		return err
	}

	// 数据库
	if err := container.Provide(func() (*gorm.DB, error) {
		if database.DB == nil {
			return nil, fmt.Errorf("database not initialized")
		}
		return database.DB, nil
	}); err != nil {
		return err
	}

	// 对象存储
	if err := container.Provide(func(cfg *config.Config) (storage.ObjectStorage, error) {
		return storage.NewObjectStorage(&cfg.Knowledge.Storage)
	}); err != nil {
		return err
	}

	// 流水线组件
	if err := container.Provide(func(cfg *config.Config) (*knowledge.Chunker, error) {
		return knowledge.NewChunker(cfg.Knowledge.ChunkSize, cfg.Knowledge.ChunkOverlap)
	}); err != nil {
		return err
	}

	if err := container.Provide(func(cfg *config.Config) (knowledge.Embedder, error) {
		if cfg.Knowledge.Embedding.Provider == "openai" {
			return knowledge.NewOpenAIEmbedder(cfg.AI.OpenAIAPIKey, cfg.Knowledge.Embedding.Model), nil
		}
		return knowledge.NewLocalEmbedder(cfg.Knowledge.Embedding.Dimensions)
	}); err != nil {
		return err
	}

	if err := container.Provide(func(cfg *config.Config) (knowledge.VectorIndex, error) {
		if cfg.Knowledge.VectorStore.Provider == "milvus" {
			milvus := cfg.Knowledge.VectorStore.Milvus
			return knowledge.NewMilvusVectorIndex(knowledge.MilvusOptions{
				Address:    milvus.Address,
				Username:   milvus.Username,
				Password:   milvus.Password,
				Collection: milvus.Collection,
				Database:   milvus.Database,
				UseTLS:     milvus.TLS,
				Dimensions: cfg.Knowledge.Embedding.Dimensions,
			})
		}
		return knowledge.NewMemoryVectorIndex(cfg.Knowledge.Embedding.Dimensions)
	}); err != nil {
		return err
	}

	if err := container.Provide(func(cfg *config.Config) (*knowledge.ContextAssembler, error) {
		return knowledge.NewContextAssembler(cfg.Knowledge.MaxContextChars)
	}); err != nil {
		return err
	}

	if err := container.Provide(func(cfg *config.Config) knowledge.Generator {
		return knowledge.NewOpenAIGenerator(cfg.AI.OpenAIAPIKey, cfg.AI.ChatModel)
	}); err != nil {
		return err
	}

	if err := container.Provide(func(cfg *config.Config) (knowledge.Reranker, error) {
		if !cfg.Knowledge.Rerank.Enabled {
			return &knowledge.NoopReranker{}, nil
		}
		return knowledge.NewTermOverlapReranker(cfg.Knowledge.Rerank.Weight)
	}); err != nil {
		return err
	}

	if err := container.Provide(func(cfg *config.Config) (*knowledge.EscalationGate, error) {
		return knowledge.NewEscalationGate(
			cfg.Knowledge.MinScore,
			cfg.Knowledge.Escalation.ConfidenceThreshold,
			cfg.Knowledge.Escalation.HumanRequestPatterns,
		)
	}); err != nil {
		return err
	}

	// 服务层
	if err := container.Provide(services.NewConversationService); err != nil {
		return err
	}

	if err := container.Provide(services.NewAnalyticsService); err != nil {
		return err
	}

	if err := container.Provide(services.NewRedisChunkCache); err != nil {
		return err
	}

	if err := container.Provide(services.NewDocumentService); err != nil {
		return err
	}

	if err := container.Provide(services.NewMetricsService); err != nil {
		return err
	}

	if err := container.Provide(func(
		cfg *config.Config,
		db *gorm.DB,
		objectStore storage.ObjectStorage,
		chunker *knowledge.Chunker,
		embedder knowledge.Embedder,
		index knowledge.VectorIndex,
		reranker knowledge.Reranker,
		assembler *knowledge.ContextAssembler,
		generator knowledge.Generator,
		gate *knowledge.EscalationGate,
		conversations *services.ConversationService,
		documents *services.DocumentService,
		analytics *services.AnalyticsService,
		cache *services.RedisChunkCache,
		metrics *services.MetricsService,
	) (*services.SupportService, error) {
		return services.NewSupportService(services.SupportServiceDeps{
			DB:            db,
			Storage:       objectStore,
			Chunker:       chunker,
			Embedder:      embedder,
			Index:         index,
			Reranker:      reranker,
			Assembler:     assembler,
			Generator:     generator,
			Gate:          gate,
			Conversations: conversations,
			Documents:     documents,
			Analytics:     analytics,
			Cache:         cache,
			Metrics:       metrics,
			TopK:          cfg.Knowledge.TopK,
			CandidateTopK: cfg.Knowledge.CandidateTopK,
			MaxParallel:   cfg.Knowledge.MaxParallel,
		})
	}); err != nil {
		return err
	}

	return nil
}

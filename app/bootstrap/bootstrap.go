package bootstrap

import (
	"context"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aihub/support-agent/app/controllers"
	"github.com/aihub/support-agent/internal/config"
	"github.com/aihub/support-agent/internal/database"
	"github.com/aihub/support-agent/internal/di"
	"github.com/aihub/support-agent/internal/kafka"
	"github.com/aihub/support-agent/internal/knowledge"
	"github.com/aihub/support-agent/internal/logger"
	"github.com/aihub/support-agent/internal/services"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	cleanupTasks []func() error
	Support      *services.SupportService
	watcher      *services.DocumentWatcher
}

// Init bootstraps configuration, logger, database connections and the
// query pipeline required by the Beego application.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize structured logger.
	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	// Load and validate configuration.
	if err := config.LoadAndValidate(); err != nil {
		return nil, err
	}

	app := &App{}

	// Initialize database.
	if _, err := database.InitDB(); err != nil {
		return nil, err
	}
	app.cleanupTasks = append(app.cleanupTasks, func() error {
		return database.CloseDB()
	})

	// 启动连接池健康检查与指标采集
	if database.Wrapper != nil {
		database.Wrapper.StartMonitoring(context.Background())
		app.cleanupTasks = append(app.cleanupTasks, func() error {
			database.Wrapper.StopHealthCheck()
			return nil
		})
	}

	// Initialize Redis (optional). Failure shouldn't block the app.
	if _, err := database.InitRedis(); err != nil {
		logger.Warn("Failed to initialize Redis", zap.Error(err))
	} else {
		app.cleanupTasks = append(app.cleanupTasks, func() error {
			return database.CloseRedis()
		})
	}

	// Initialize Kafka (optional). Failure shouldn't block the app.
	if config.AppConfig.Kafka.Enabled {
		if err := kafka.InitProducer(config.AppConfig.Kafka.Brokers, config.AppConfig.Kafka.Topic); err != nil {
			logger.Warn("Failed to initialize Kafka producer", zap.Error(err))
		} else {
			app.cleanupTasks = append(app.cleanupTasks, func() error {
				producer := kafka.GetProducer()
				if producer != nil {
					return producer.Close()
				}
				return nil
			})
		}

		// 审计事件消费，落一条结构化日志便于追踪转人工
		topics := []string{config.AppConfig.Kafka.Topic}
		if err := kafka.InitConsumer(config.AppConfig.Kafka.Brokers, config.AppConfig.Kafka.GroupID, topics); err != nil {
			logger.Warn("Failed to initialize Kafka consumer", zap.Error(err))
		} else if consumer := kafka.GetConsumer(); consumer != nil {
			consumer.RegisterHandler(config.AppConfig.Kafka.Topic, handleAuditEvent)
			app.cleanupTasks = append(app.cleanupTasks, consumer.Close)
		}
	}

	// Build the query pipeline via the DI container.
	container, err := di.NewContainer()
	if err != nil {
		return nil, err
	}

	err = container.Invoke(func(
		support *services.SupportService,
		documents *services.DocumentService,
		conversations *services.ConversationService,
		analytics *services.AnalyticsService,
		metrics *services.MetricsService,
		generator knowledge.Generator,
	) {
		app.Support = support
		controllers.SetServices(support, documents, conversations, analytics, metrics, generator)
	})
	if err != nil {
		return nil, err
	}

	// 重启后从数据库恢复向量索引
	rebuildCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := app.Support.RebuildIndex(rebuildCtx); err != nil {
		return nil, err
	}

	// 监听上传目录，落盘即摄取
	if uploadPath := config.AppConfig.FileUpload.UploadPath; uploadPath != "" {
		watcher, err := services.NewDocumentWatcher(app.Support, uploadPath)
		if err != nil {
			logger.Warn("Failed to start document watcher", zap.Error(err))
		} else {
			watcher.Start(context.Background())
			app.watcher = watcher
			app.cleanupTasks = append(app.cleanupTasks, watcher.Close)
		}
	}

	return app, nil
}

// handleAuditEvent 消费审计事件
func handleAuditEvent(ctx context.Context, message *sarama.ConsumerMessage) error {
	event, err := kafka.ParseAuditEvent(message.Value)
	if err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String("event_type", event.Type),
		zap.String("conversation_id", event.ConversationID),
	}
	if event.Escalated {
		fields = append(fields, zap.String("escalation_reason", event.EscalationReason))
		logger.Warn("Escalation event", fields...)
	} else {
		logger.Info("Audit event", fields...)
	}
	return nil
}

// Shutdown flushes logs and closes resources gracefully.
func (a *App) Shutdown() {
	// Execute cleanup tasks in reverse order (best effort).
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			log.Printf("Cleanup error: %v\n", err)
		}
	}

	logger.Sync()
}

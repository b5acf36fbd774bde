package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/aihub/support-agent/internal/config"
	"github.com/aihub/support-agent/internal/interfaces"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DatabaseWrapper 数据库包装器，实现DatabaseInterface
// 持有gorm连接、连接池健康检查器和指标收集器
type DatabaseWrapper struct {
	db            *gorm.DB
	sqlDB         *sql.DB
	config        *config.Config
	healthChecker *HealthChecker
	metrics       *MetricsCollector
}

// poolSettings 连接池参数，零值回落到默认值
type poolSettings struct {
	maxOpen         int
	maxIdle         int
	connMaxLifetime time.Duration
	connMaxIdleTime time.Duration
}

func resolvePoolSettings(cfg config.DatabaseConfig) poolSettings {
	s := poolSettings{
		maxOpen:         cfg.MaxOpenConns,
		maxIdle:         cfg.MaxIdleConns,
		connMaxLifetime: cfg.ConnMaxLifetime,
		connMaxIdleTime: cfg.ConnMaxIdleTime,
	}
	if s.maxOpen <= 0 {
		s.maxOpen = 100
	}
	if s.maxIdle <= 0 {
		s.maxIdle = 10
	}
	if s.connMaxLifetime <= 0 {
		s.connMaxLifetime = time.Hour
	}
	if s.connMaxIdleTime <= 0 {
		s.connMaxIdleTime = 30 * time.Minute
	}
	return s
}

// gormLogMode 生产环境只记录慢查询和错误，开发环境记录全部SQL
func gormLogMode() gormlogger.Interface {
	if os.Getenv("ENV") == "development" {
		return gormlogger.Default.LogMode(gormlogger.Info)
	}
	return gormlogger.Default.LogMode(gormlogger.Warn)
}

// NewDatabase 建立数据库连接，配置连接池并迁移业务表
func NewDatabase(cfg *config.Config) (interfaces.DatabaseInterface, error) {
	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{
		Logger: gormLogMode(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	pool := resolvePoolSettings(cfg.Database)
	sqlDB.SetMaxOpenConns(pool.maxOpen)
	sqlDB.SetMaxIdleConns(pool.maxIdle)
	sqlDB.SetConnMaxLifetime(pool.connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(pool.connMaxIdleTime)

	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	dbLogger := logrus.New()
	dbLogger.SetLevel(logrus.InfoLevel)
	dbLogger.WithFields(logrus.Fields{
		"max_open_conns": pool.maxOpen,
		"max_idle_conns": pool.maxIdle,
	}).Info("Database connection pool configured")

	return &DatabaseWrapper{
		db:            db,
		sqlDB:         sqlDB,
		config:        cfg,
		healthChecker: NewHealthChecker(sqlDB, dbLogger),
		metrics:       NewMetricsCollector(sqlDB, dbLogger),
	}, nil
}

// GetDB 获取数据库连接
func (d *DatabaseWrapper) GetDB() *gorm.DB {
	return d.db
}

// Close 关闭数据库连接
func (d *DatabaseWrapper) Close() error {
	if d.sqlDB == nil {
		return nil
	}
	return d.sqlDB.Close()
}

// HealthCheck 返回连接健康状态；检查器未就绪时直接ping兜底
func (d *DatabaseWrapper) HealthCheck() error {
	if d.healthChecker != nil && d.healthChecker.IsHealthy() {
		return nil
	}

	if d.sqlDB == nil {
		return fmt.Errorf("database connection is nil")
	}
	return d.sqlDB.Ping()
}

// StartMonitoring 启动健康检查和连接池指标采集
// 两者都在后台goroutine中运行，随ctx取消退出
func (d *DatabaseWrapper) StartMonitoring(ctx context.Context) {
	if d.healthChecker != nil {
		go d.healthChecker.Start(ctx)
	}
	if d.metrics != nil {
		d.metrics.Start(ctx)
	}
}

// StopHealthCheck 停止健康检查
func (d *DatabaseWrapper) StopHealthCheck() {
	if d.healthChecker != nil {
		d.healthChecker.Stop()
	}
}

// GetHealthStatus 获取健康状态快照
func (d *DatabaseWrapper) GetHealthStatus() interface{} {
	if d.healthChecker != nil {
		return d.healthChecker.GetHealthResult()
	}
	return map[string]interface{}{
		"healthy": false,
		"error":   "health checker not initialized",
	}
}

// GetConfig 获取配置
func (d *DatabaseWrapper) GetConfig() *config.Config {
	return d.config
}

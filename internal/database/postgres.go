package database

import (
	"fmt"
	"log"

	"github.com/aihub/support-agent/internal/config"
	"github.com/aihub/support-agent/internal/models"
	"gorm.io/gorm"
)

var DB *gorm.DB

// Wrapper 持有当前数据库包装器，用于健康检查与连接池监控
var Wrapper *DatabaseWrapper

func InitDB() (*gorm.DB, error) {
	cfg := config.AppConfig
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	database, err := NewDatabase(cfg)
	if err != nil {
		return nil, err
	}

	wrapper, ok := database.(*DatabaseWrapper)
	if !ok {
		return nil, fmt.Errorf("unexpected database implementation %T", database)
	}

	DB = wrapper.GetDB()
	Wrapper = wrapper
	log.Println("✅ Database connected successfully")
	return DB, nil
}

// autoMigrate 自动迁移业务表，按外键依赖顺序
func autoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Document{}); err != nil {
		return fmt.Errorf("failed to migrate documents: %w", err)
	}
	if err := db.AutoMigrate(&models.DocumentChunk{}); err != nil {
		return fmt.Errorf("failed to migrate document_chunks: %w", err)
	}
	if err := db.AutoMigrate(&models.Conversation{}); err != nil {
		return fmt.Errorf("failed to migrate conversations: %w", err)
	}
	if err := db.AutoMigrate(&models.ConversationMessage{}); err != nil {
		return fmt.Errorf("failed to migrate conversation_messages: %w", err)
	}
	if err := db.AutoMigrate(&models.QueryLog{}); err != nil {
		return fmt.Errorf("failed to migrate query_logs: %w", err)
	}
	return nil
}

func CloseDB() error {
	if Wrapper != nil {
		err := Wrapper.Close()
		Wrapper = nil
		DB = nil
		return err
	}
	if DB == nil {
		return nil
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

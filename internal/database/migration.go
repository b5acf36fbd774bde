package database

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
)

// Migrator 数据库迁移器，封装golang-migrate的版本化schema管理
type Migrator struct {
	migrate *migrate.Migrate
	logger  *logrus.Logger
}

// NewMigrator 基于已有数据库连接和迁移文件目录创建迁移器
func NewMigrator(db *sql.DB, migrationPath string, logger *logrus.Logger) (*Migrator, error) {
	if migrationPath == "" {
		migrationPath = "./migrations"
	}
	if abs, err := filepath.Abs(migrationPath); err == nil {
		migrationPath = abs
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationPath),
		"postgres",
		driver,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return &Migrator{migrate: m, logger: logger}, nil
}

// Up 执行所有待执行的迁移
func (mg *Migrator) Up() error {
	mg.logger.Info("Starting database migration up")

	err := mg.migrate.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err == migrate.ErrNoChange {
		mg.logger.Info("No migrations to apply")
	} else {
		mg.logger.Info("Database migrations completed successfully")
	}
	return nil
}

// Down 回滚最后一次迁移
func (mg *Migrator) Down() error {
	mg.logger.Info("Rolling back last migration")

	if err := mg.migrate.Steps(-1); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	mg.logger.Info("Migration rollback completed")
	return nil
}

// Goto 迁移到指定版本，可向上或向下
func (mg *Migrator) Goto(version uint) error {
	mg.logger.Infof("Migrating to version %d", version)

	if err := mg.migrate.Migrate(version); err != nil {
		return fmt.Errorf("failed to migrate to version %d: %w", version, err)
	}

	mg.logger.Infof("Successfully migrated to version %d", version)
	return nil
}

// Version 获取当前数据库版本及脏状态
func (mg *Migrator) Version() (uint, bool, error) {
	version, dirty, err := mg.migrate.Version()
	if err == migrate.ErrNilVersion {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Force 强制设置版本号，用于修复脏状态
func (mg *Migrator) Force(version uint) error {
	mg.logger.Warnf("Force setting migration version to %d", version)

	if err := mg.migrate.Force(int(version)); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}

// Close 关闭迁移器持有的source和数据库句柄
func (mg *Migrator) Close() error {
	sourceErr, dbErr := mg.migrate.Close()
	if sourceErr != nil || dbErr != nil {
		return fmt.Errorf("errors occurred while closing migrator: source=%v, db=%v", sourceErr, dbErr)
	}
	return nil
}

package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// MetricsCollector 连接池指标收集器
// 周期性采样sql.DBStats并导出到Prometheus
type MetricsCollector struct {
	db              *sql.DB
	logger          *logrus.Logger
	collectInterval time.Duration

	connectionsGauge *prometheus.GaugeVec
	errorsCounter    *prometheus.CounterVec
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector(db *sql.DB, logger *logrus.Logger) *MetricsCollector {
	return &MetricsCollector{
		db:              db,
		logger:          logger,
		collectInterval: 15 * time.Second,
		connectionsGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "support_agent_db_connections",
				Help: "Database connection pool state",
			},
			[]string{"state"},
		),
		errorsCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "support_agent_db_errors_total",
				Help: "Total number of database errors by type",
			},
			[]string{"error_type"},
		),
	}
}

// Start 后台采集连接池指标，随ctx取消退出
func (mc *MetricsCollector) Start(ctx context.Context) {
	mc.logger.Info("Starting database metrics collection")

	go func() {
		ticker := time.NewTicker(mc.collectInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mc.collect()
			}
		}
	}()
}

// collect 采样一次连接池统计
func (mc *MetricsCollector) collect() {
	stats := mc.db.Stats()

	mc.connectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
	mc.connectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
	mc.connectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
	mc.connectionsGauge.WithLabelValues("wait_count").Set(float64(stats.WaitCount))

	mc.logger.WithFields(logrus.Fields{
		"idle":   stats.Idle,
		"in_use": stats.InUse,
		"open":   stats.OpenConnections,
		"wait":   stats.WaitCount,
	}).Debug("Database connection pool stats collected")
}

// RecordConnectionError 记录连接错误
func (mc *MetricsCollector) RecordConnectionError(errorType string) {
	mc.errorsCounter.WithLabelValues(errorType).Inc()
}

// GetStats 获取当前连接池统计信息
func (mc *MetricsCollector) GetStats() sql.DBStats {
	return mc.db.Stats()
}

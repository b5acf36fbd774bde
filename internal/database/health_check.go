package database

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// HealthChecker 周期性探测数据库连通性并缓存最近结果
type HealthChecker struct {
	db            *sql.DB
	logger        *logrus.Logger
	checkInterval time.Duration
	retryDelay    time.Duration
	maxRetries    int

	mu          sync.RWMutex
	healthy     bool
	lastCheck   time.Time
	lastLatency time.Duration
	lastError   error
	running     bool
	stopChan    chan struct{}
}

// HealthCheckResult 健康检查快照，序列化后用于健康端点
type HealthCheckResult struct {
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
	Latency   string    `json:"latency,omitempty"`
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(db *sql.DB, logger *logrus.Logger) *HealthChecker {
	return &HealthChecker{
		db:            db,
		logger:        logger,
		checkInterval: 30 * time.Second,
		retryDelay:    5 * time.Second,
		maxRetries:    3,
		stopChan:      make(chan struct{}),
	}
}

// SetCheckInterval 设置检查间隔
func (hc *HealthChecker) SetCheckInterval(interval time.Duration) {
	hc.mu.Lock()
	hc.checkInterval = interval
	hc.mu.Unlock()
}

// Check 执行单次ping检查并更新缓存状态
func (hc *HealthChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.db.PingContext(ctx)
	latency := time.Since(start)

	hc.mu.Lock()
	wasHealthy := hc.healthy
	hc.lastCheck = time.Now()
	hc.lastLatency = latency
	hc.lastError = err
	hc.healthy = err == nil
	hc.mu.Unlock()

	if err != nil {
		hc.logger.WithFields(logrus.Fields{
			"error":   err.Error(),
			"latency": latency,
		}).Warn("Database health check failed")
		return err
	}

	if !wasHealthy {
		hc.logger.WithField("latency", latency).Info("Database connection restored")
	}
	return nil
}

// Start 启动检查循环，阻塞直到ctx取消或Stop被调用
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.mu.Lock()
	if hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = true
	interval := hc.checkInterval
	hc.mu.Unlock()

	hc.logger.Info("Starting database health checker")

	hc.checkWithRetry(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			hc.finish()
			return
		case <-hc.stopChan:
			hc.finish()
			return
		case <-ticker.C:
			hc.checkWithRetry(ctx)
		}
	}
}

func (hc *HealthChecker) finish() {
	hc.mu.Lock()
	hc.running = false
	hc.mu.Unlock()
	hc.logger.Info("Database health checker stopped")
}

// checkWithRetry 检查失败后线性退避重试，避免瞬时抖动把状态打成不健康
func (hc *HealthChecker) checkWithRetry(ctx context.Context) {
	if hc.Check(ctx) == nil {
		return
	}

	for attempt := 1; attempt <= hc.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-hc.stopChan:
			return
		case <-time.After(hc.retryDelay * time.Duration(attempt)):
			if hc.Check(ctx) == nil {
				return
			}
		}
	}
	hc.logger.Error("Database connection failed after all retries")
}

// Stop 停止检查循环
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	if !hc.running {
		return
	}
	close(hc.stopChan)
}

// IsHealthy 返回最近一次检查的健康状态
func (hc *HealthChecker) IsHealthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.healthy
}

// GetHealthResult 获取健康状态快照
func (hc *HealthChecker) GetHealthResult() HealthCheckResult {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	result := HealthCheckResult{
		Healthy:   hc.healthy,
		LastCheck: hc.lastCheck,
	}
	if hc.lastError != nil {
		result.LastError = hc.lastError.Error()
	}
	if !hc.lastCheck.IsZero() {
		result.Latency = hc.lastLatency.String()
	}
	return result
}

// WaitForHealthy 轮询等待数据库变为健康，超时返回错误
func (hc *HealthChecker) WaitForHealthy(ctx context.Context, timeout time.Duration) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-timeoutCtx.Done():
			return timeoutCtx.Err()
		case <-ticker.C:
			if hc.IsHealthy() {
				return nil
			}
		}
	}
}

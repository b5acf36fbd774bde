package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/aihub/support-agent/internal/database"
	"github.com/aihub/support-agent/internal/logger"
	"github.com/aihub/support-agent/internal/models"
	"go.uber.org/zap"
)

// AnalyticsService 统计分析服务
type AnalyticsService struct {
	db *gorm.DB
}

// NewAnalyticsService 创建统计分析服务实例
func NewAnalyticsService(db *gorm.DB) *AnalyticsService {
	return &AnalyticsService{db: db}
}

// SummaryData 运营概览数据
type SummaryData struct {
	TotalQueries    int64            `json:"total_queries"`
	Escalated       int64            `json:"escalated"`
	EscalationRate  float64          `json:"escalation_rate"`
	ReasonBreakdown map[string]int64 `json:"reason_breakdown"`
	AvgBestScore    float64          `json:"avg_best_score"`
	AvgLatencyMs    float64          `json:"avg_latency_ms"`
	Period          Period           `json:"period"`
}

// Period 时间段
type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// LogQuery 记录一次查询，统计失败不阻塞主流程
func (s *AnalyticsService) LogQuery(ctx context.Context, log *models.QueryLog) {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
		logger.Warn("查询日志写入失败", zap.Error(err))
	}
}

// GetSummary 获取时间段内的运营概览，结果短暂缓存在Redis
func (s *AnalyticsService) GetSummary(ctx context.Context, start, end time.Time) (*SummaryData, error) {
	cacheKey := fmt.Sprintf("analytics:summary:%s:%s",
		start.Format("2006-01-02"), end.Format("2006-01-02"))

	// 尝试从缓存获取
	if database.RedisClient != nil {
		cached, err := database.RedisClient.Get(ctx, cacheKey).Result()
		if err == nil && cached != "" {
			var data SummaryData
			if err := json.Unmarshal([]byte(cached), &data); err == nil {
				return &data, nil
			}
		}
	}

	base := s.db.WithContext(ctx).Model(&models.QueryLog{}).
		Where("created_at >= ? AND created_at < ?", start, end)

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, err
	}

	var escalated int64
	if err := base.Session(&gorm.Session{}).Where("escalated = ?", true).Count(&escalated).Error; err != nil {
		return nil, err
	}

	type reasonRow struct {
		EscalationReason string
		Count            int64
	}
	var reasons []reasonRow
	err := base.Session(&gorm.Session{}).
		Select("escalation_reason, count(*) as count").
		Where("escalated = ?", true).
		Group("escalation_reason").
		Scan(&reasons).Error
	if err != nil {
		return nil, err
	}

	type avgRow struct {
		AvgScore   float64
		AvgLatency float64
	}
	var avgs avgRow
	err = base.Session(&gorm.Session{}).
		Select("coalesce(avg(best_score), 0) as avg_score, coalesce(avg(latency_ms), 0) as avg_latency").
		Scan(&avgs).Error
	if err != nil {
		return nil, err
	}

	data := &SummaryData{
		TotalQueries:    total,
		Escalated:       escalated,
		ReasonBreakdown: make(map[string]int64, len(reasons)),
		AvgBestScore:    avgs.AvgScore,
		AvgLatencyMs:    avgs.AvgLatency,
		Period: Period{
			Start: start.Format("2006-01-02"),
			End:   end.Format("2006-01-02"),
		},
	}
	if total > 0 {
		data.EscalationRate = float64(escalated) / float64(total)
	}
	for _, row := range reasons {
		data.ReasonBreakdown[row.EscalationReason] = row.Count
	}

	// 写缓存，5分钟过期
	if database.RedisClient != nil {
		if payload, err := json.Marshal(data); err == nil {
			if err := database.RedisClient.Set(ctx, cacheKey, payload, 5*time.Minute).Err(); err != nil {
				logger.Warn("概览缓存写入失败", zap.Error(err))
			}
		}
	}

	return data, nil
}

package services

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService 指标服务
type MetricsService struct {
	queriesTotal      *prometheus.CounterVec
	escalationsTotal  *prometheus.CounterVec
	queryDuration     prometheus.Histogram
	retrievalScore    prometheus.Histogram
	documentsIngested prometheus.Counter
	chunksIndexed     prometheus.Gauge
}

// NewMetricsService 创建指标服务
func NewMetricsService() *MetricsService {
	return &MetricsService{
		queriesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "support_agent_queries_total",
			Help: "Total number of answered queries by outcome",
		}, []string{"outcome"}),
		escalationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "support_agent_escalations_total",
			Help: "Total number of escalations by reason",
		}, []string{"reason"}),
		queryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "support_agent_query_duration_seconds",
			Help:    "End to end query latency",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		retrievalScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "support_agent_retrieval_best_score",
			Help:    "Best retrieval similarity score per query",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		documentsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "support_agent_documents_ingested_total",
			Help: "Total number of ingested documents",
		}),
		chunksIndexed: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "support_agent_chunks_indexed",
			Help: "Number of chunks currently in the vector index",
		}),
	}
}

// RecordQuery 记录一次问答
func (ms *MetricsService) RecordQuery(escalated bool, reason string, bestScore float64, duration time.Duration) {
	outcome := "answered"
	if escalated {
		outcome = "escalated"
		ms.escalationsTotal.WithLabelValues(reason).Inc()
	}
	ms.queriesTotal.WithLabelValues(outcome).Inc()
	ms.queryDuration.Observe(duration.Seconds())
	ms.retrievalScore.Observe(bestScore)
}

// RecordIngest 记录一次文档摄取
func (ms *MetricsService) RecordIngest() {
	ms.documentsIngested.Inc()
}

// SetIndexSize 更新索引规模
func (ms *MetricsService) SetIndexSize(size int) {
	ms.chunksIndexed.Set(float64(size))
}

// Handler 返回Prometheus指标的HTTP处理器
func (ms *MetricsService) Handler() http.Handler {
	return promhttp.Handler()
}

// ServeHTTP 实现http.Handler接口
func (ms *MetricsService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ms.Handler().ServeHTTP(w, r)
}

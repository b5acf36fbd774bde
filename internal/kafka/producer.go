package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/aihub/support-agent/internal/logger"
	"go.uber.org/zap"
)

// Producer Kafka生产者
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// 审计事件类型
const (
	EventQueryAnswered    = "query_answered"
	EventQueryEscalated   = "query_escalated"
	EventDocumentIngested = "document_ingested"
	EventDocumentDeleted  = "document_deleted"
)

// AuditEvent 审计事件
// 每次问答与文档变更各发一条，供下游运营系统消费
type AuditEvent struct {
	Type             string    `json:"type"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	DocumentID       uint      `json:"document_id,omitempty"`
	Query            string    `json:"query,omitempty"`
	Escalated        bool      `json:"escalated"`
	EscalationReason string    `json:"escalation_reason,omitempty"`
	BestScore        float64   `json:"best_score,omitempty"`
	ChunkCount       int       `json:"chunk_count,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

var globalProducer *Producer

// InitProducer 初始化Kafka生产者
func InitProducer(brokers []string, topic string) error {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	globalProducer = &Producer{
		producer: producer,
		topic:    topic,
	}

	logger.Info("Kafka生产者初始化成功", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return nil
}

// GetProducer 获取全局生产者实例
func GetProducer() *Producer {
	return globalProducer
}

// GetProducerInstance 获取底层sarama producer实例（用于扩展功能）
func (p *Producer) GetProducerInstance() sarama.SyncProducer {
	return p.producer
}

// SendEvent 发送审计事件到Kafka
func (p *Producer) SendEvent(event *AuditEvent) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("Kafka生产者未初始化")
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	key := event.ConversationID
	if key == "" {
		key = fmt.Sprintf("document-%d", event.DocumentID)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("event_type"),
				Value: []byte(event.Type),
			},
		},
	}

	partition, offset, err := p.producer.SendMessage(kafkaMsg)
	if err != nil {
		logger.Error("发送Kafka消息失败", zap.Error(err))
		return fmt.Errorf("发送消息失败: %w", err)
	}

	logger.Debug("Kafka消息发送成功",
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("event_type", event.Type))

	return nil
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p != nil && p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// PublishEvent 发送审计事件（便捷方法）
// Kafka未配置时静默跳过，不影响主流程
func PublishEvent(event *AuditEvent) {
	producer := GetProducer()
	if producer == nil {
		return
	}
	if err := producer.SendEvent(event); err != nil {
		logger.Warn("审计事件发送失败", zap.String("event_type", event.Type), zap.Error(err))
	}
}

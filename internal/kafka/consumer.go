package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/aihub/support-agent/internal/logger"
	"go.uber.org/zap"
)

// MessageHandler 消息处理函数
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer 审计事件消费者，按topic分发到注册的处理器
type Consumer struct {
	group    sarama.ConsumerGroup
	groupID  string
	topics   []string
	handlers map[string]MessageHandler
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

var globalConsumer *Consumer

// InitConsumer 初始化Kafka消费者组并启动消费循环
func InitConsumer(brokers []string, groupID string, topics []string) error {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V2_6_0_0

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return fmt.Errorf("创建Kafka消费者组失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	globalConsumer = &Consumer{
		group:    group,
		groupID:  groupID,
		topics:   topics,
		handlers: make(map[string]MessageHandler),
		ctx:      ctx,
		cancel:   cancel,
	}

	logger.Info("Kafka消费者初始化成功",
		zap.Strings("brokers", brokers),
		zap.String("group_id", groupID),
		zap.Strings("topics", topics))
	return nil
}

// GetConsumer 获取全局消费者实例
func GetConsumer() *Consumer {
	return globalConsumer
}

// RegisterHandler 注册topic处理器；首次注册后启动消费循环
func (c *Consumer) RegisterHandler(topic string, handler MessageHandler) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.handlers[topic] = handler
	if !c.started {
		c.started = true
		c.run()
	}
	c.mu.Unlock()
	logger.Info("注册Kafka消息处理器", zap.String("topic", topic))
}

func (c *Consumer) run() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		handler := &auditGroupHandler{consumer: c}
		for {
			if c.ctx.Err() != nil {
				logger.Info("Kafka消费者停止")
				return
			}
			// Consume在rebalance后返回，循环重新加入
			if err := c.group.Consume(c.ctx, c.topics, handler); err != nil {
				logger.Error("消费消息失败", zap.Error(err))
				select {
				case <-c.ctx.Done():
					return
				case <-time.After(5 * time.Second):
				}
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			logger.Error("Kafka消费者错误", zap.Error(err))
		}
	}()
}

// Close 停止消费并关闭消费者组
func (c *Consumer) Close() error {
	if c == nil {
		return nil
	}
	c.cancel()
	err := c.group.Close()
	c.wg.Wait()
	return err
}

// auditGroupHandler sarama消费者组回调
type auditGroupHandler struct {
	consumer *Consumer
}

func (h *auditGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *auditGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim 逐条分发消息；处理失败不标记offset，等待下次消费重试
func (h *auditGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.consumer.mu.Lock()
			handler, found := h.consumer.handlers[message.Topic]
			h.consumer.mu.Unlock()
			if !found {
				logger.Warn("未找到消息处理器", zap.String("topic", message.Topic))
				session.MarkMessage(message, "")
				continue
			}

			if err := handler(h.consumer.ctx, message); err != nil {
				logger.Error("处理消息失败",
					zap.String("topic", message.Topic),
					zap.Int64("offset", message.Offset),
					zap.Error(err))
				continue
			}

			session.MarkMessage(message, "")
			logger.Debug("消息处理成功",
				zap.String("topic", message.Topic),
				zap.Int64("offset", message.Offset))

		case <-session.Context().Done():
			return nil
		}
	}
}

// ParseAuditEvent 解析审计事件消息
func ParseAuditEvent(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("解析审计事件失败: %w", err)
	}
	return &event, nil
}

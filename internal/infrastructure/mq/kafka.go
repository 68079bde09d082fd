package mq

import (
	"fmt"

	"vendorpay/internal/config"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Publisher OutboxSender 依赖的投递接口，测试里可以换成 sarama/mocks
type Publisher interface {
	Publish(topic, key, value string) error
	Close() error
}

// Producer 基于 sarama.SyncProducer 的 Publisher
type Producer struct {
	producer sarama.SyncProducer
	log      *zap.Logger
}

// NewSaramaConfig 生产者配置：等待所有副本确认，失败重试 3 次
func NewSaramaConfig() *sarama.Config {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	return kafkaConfig
}

// NewKafkaProducer 连接 broker 创建生产者
func NewKafkaProducer(cfg *config.KafkaConfig, log *zap.Logger) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}
	log.Info("Kafka 生产者创建成功", zap.Strings("brokers", cfg.Brokers))
	return NewProducer(producer, log), nil
}

func NewProducer(producer sarama.SyncProducer, log *zap.Logger) *Producer {
	return &Producer{producer: producer, log: log}
}

// Publish 同步发送，key 用 order_id 保证同一订单的事件落在同一分区
func (p *Producer) Publish(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return err
	}
	p.log.Debug("Kafka 消息发送成功",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

func (p *Producer) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/steam-achievement-widget/internal/config"
	"github.com/steam-achievement-widget/internal/domain"
)

// Producer publishes unlock events to Kafka
type Producer struct {
	producer sarama.SyncProducer
	topic    string
	logger   *slog.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Retry.Max = cfg.RetryAttempts
	saramaConfig.Producer.Retry.Backoff = cfg.RetryDelay
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	logger.Info("Kafka producer ready", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return NewProducerWithClient(producer, cfg.Topic, logger), nil
}

// NewProducerWithClient creates a producer on an existing sarama producer
func NewProducerWithClient(producer sarama.SyncProducer, topic string, logger *slog.Logger) *Producer {
	return &Producer{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// PublishUnlocks sends one message per event, keyed by player id so a
// player's unlocks stay ordered within a partition
func (p *Producer) PublishUnlocks(ctx context.Context, events []domain.UnlockEvent) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(events))
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshaling unlock event: %w", err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(event.PlayerID),
			Value: sarama.ByteEncoder(data),
		})
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("publishing unlock events: %w", err)
	}

	p.logger.Debug("published unlock events", "count", len(msgs), "topic", p.topic)
	return nil
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	return p.producer.Close()
}

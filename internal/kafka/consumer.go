package kafka

import (
	"context"
	"fmt"
	"strings"

	"upscale-go/internal/config"
	"upscale-go/internal/logger"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// MessageHandler is a function type for processing consumed Kafka messages.
type MessageHandler func(ctx context.Context, msg *kafka.Message) error

// MessageConsumer defines the interface for a Kafka message consumer.
type MessageConsumer interface {
	Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error
	Close()
}

// confluentKafkaConsumer is an implementation of MessageConsumer using confluent-kafka-go.
type confluentKafkaConsumer struct {
	consumer *kafka.Consumer
	cfg      config.KafkaConfig
	groupID  string
}

// NewConfluentKafkaConsumer prepares a consumer; the underlying client is
// created in Consume once the group ID is known.
func NewConfluentKafkaConsumer(cfg config.KafkaConfig) (MessageConsumer, error) {
	return &confluentKafkaConsumer{cfg: cfg}, nil
}

// Consume starts consuming messages from the specified topics and group.
// This method will block until the context is canceled or a fatal error occurs.
func (c *confluentKafkaConsumer) Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error {
	if len(topics) == 0 {
		return fmt.Errorf("kafka consumer: no topics specified")
	}
	c.groupID = groupID

	configMap := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(c.cfg.Brokers, ","),
		"group.id":           c.groupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": "false", // committed after the handler succeeds
		"security.protocol":  c.cfg.Protocol,
	}
	if c.cfg.ClientID != "" {
		_ = configMap.SetKey("client.id", c.cfg.ClientID)
	}

	consumer, err := kafka.NewConsumer(configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer for group %s: %w", groupID, err)
	}
	c.consumer = consumer

	if err := c.consumer.SubscribeTopics(topics, nil); err != nil {
		_ = c.consumer.Close() // Best effort close
		c.consumer = nil
		return fmt.Errorf("failed to subscribe to topics %v for group %s: %w", topics, groupID, err)
	}

	fields := logger.Fields{"group_id": groupID, "topics": topics}
	logger.Info(ctx, "Kafka consumer started", fields)

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Kafka consumer context canceled, shutting down", fields)
			return nil
		default:
		}

		ev := c.consumer.Poll(1000) // Poll for 1 second
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			msgFields := logger.Fields{
				"group_id":  groupID,
				"topic":     *e.TopicPartition.Topic,
				"partition": e.TopicPartition.Partition,
				"offset":    e.TopicPartition.Offset.String(),
			}
			if err := handler(ctx, e); err != nil {
				logger.Error(ctx, "error processing Kafka message", err, msgFields)
				continue
			}
			if _, err := c.consumer.CommitMessage(e); err != nil {
				logger.Error(ctx, "failed to commit Kafka offset", err, msgFields)
			}
		case kafka.Error:
			logger.Error(ctx, "Kafka consumer error", e, logger.Fields{
				"group_id":  groupID,
				"code":      e.Code().String(),
				"fatal":     e.IsFatal(),
				"retriable": e.IsRetriable(),
			})
			if e.IsFatal() {
				return e
			}
		case kafka.AssignedPartitions:
			logger.Info(ctx, "Kafka partitions assigned", logger.Fields{"group_id": groupID, "partitions": len(e.Partitions)})
			_ = c.consumer.Assign(e.Partitions)
		case kafka.RevokedPartitions:
			logger.Info(ctx, "Kafka partitions revoked", logger.Fields{"group_id": groupID, "partitions": len(e.Partitions)})
			_ = c.consumer.Unassign()
		default:
			// PartitionEOF, stats and other events are ignored
		}
	}
}

// Close closes the Kafka consumer.
func (c *confluentKafkaConsumer) Close() {
	if c.consumer == nil {
		return
	}
	ctx := context.Background()
	if err := c.consumer.Close(); err != nil {
		logger.Error(ctx, "error closing Kafka consumer", err, logger.Fields{"group_id": c.groupID})
	} else {
		logger.Info(ctx, "Kafka consumer closed", logger.Fields{"group_id": c.groupID})
	}
	c.consumer = nil
}

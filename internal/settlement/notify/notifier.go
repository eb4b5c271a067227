// Package notify publishes settlement notifications onto the notification
// queue. Delivery (email, push, in-app) is handled downstream.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lendblock/lendblock/internal/settlement/model"
)

// KafkaNotifier implements interfaces.Notifier over a Kafka topic.
type KafkaNotifier struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaNotifier builds a producer for the notification topic.
func NewKafkaNotifier(brokers []string, topic string, logger *zap.Logger) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &KafkaNotifier{writer: writer, logger: logger}
}

// Enqueue publishes one notification. Callers treat errors as non-fatal.
func (n *KafkaNotifier) Enqueue(ctx context.Context, notification *model.Notification) error {
	if notification.ID == uuid.Nil {
		notification.ID = uuid.New()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}

	value, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(notification.ID.String()),
		Value: value,
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	n.logger.Debug("notification published",
		zap.String("type", notification.Type),
		zap.String("channel", string(notification.Channel)))
	return nil
}

// Close flushes and closes the underlying producer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// refundRequest is the message published when a failed withdrawal becomes
// refund-eligible. The refund service consumes the topic and credits the
// user after review.
type refundRequest struct {
	WithdrawalID uuid.UUID `json:"withdrawal_id"`
	Reason       string    `json:"reason"`
	RequestedAt  time.Time `json:"requested_at"`
}

// KafkaRefundSignaler implements interfaces.RefundSignaler over a Kafka topic.
type KafkaRefundSignaler struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaRefundSignaler builds a producer for the refund request topic.
func NewKafkaRefundSignaler(brokers []string, topic string, logger *zap.Logger) *KafkaRefundSignaler {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaRefundSignaler{writer: writer, logger: logger}
}

// RequestRefund publishes one refund request keyed by withdrawal id, so
// duplicate signals for the same withdrawal land in the same partition.
func (r *KafkaRefundSignaler) RequestRefund(ctx context.Context, withdrawalID uuid.UUID, reason string) error {
	value, err := json.Marshal(refundRequest{
		WithdrawalID: withdrawalID,
		Reason:       reason,
		RequestedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal refund request: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(withdrawalID.String()),
		Value: value,
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish refund request: %w", err)
	}
	r.logger.Info("refund requested",
		zap.String("withdrawal_id", withdrawalID.String()),
		zap.String("reason", reason))
	return nil
}

// Close flushes and closes the underlying producer.
func (r *KafkaRefundSignaler) Close() error {
	return r.writer.Close()
}

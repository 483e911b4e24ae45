package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"checkout-flow/internal/domain"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const TopicPaymentStatus = "order.payment.status"

const (
	TypePaymentApproved = "PaymentApproved"
	TypePaymentFailed   = "PaymentFailed"
)

// Envelope is the value of every message on the payment status topic.
type Envelope struct {
	EventID    string              `json:"eventId"`
	Type       string              `json:"type"`
	OccurredAt time.Time           `json:"occurredAt"`
	Payload    domain.PaymentEvent `json:"payload"`
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter returns an async writer keyed by order id, so all events of one
// order land on the same partition in order.
func NewWriter(brokers []string, topic string, logger *zap.Logger) *kafka.Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Error("kafka_write_failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
	}
}

type KafkaSink struct {
	w MessageWriter
}

func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

func (s *KafkaSink) Publish(ctx context.Context, ev domain.PaymentEvent) error {
	env := Envelope{
		EventID:    uuid.NewString(),
		Type:       TypePaymentFailed,
		OccurredAt: ev.OccurredAt,
		Payload:    ev,
	}
	if ev.Approved {
		env.Type = TypePaymentApproved
	}
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.OrderID, 10)),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(env.Type)},
			{Key: "event-id", Value: []byte(env.EventID)},
		},
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish order %d: %w", ev.OrderID, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.w.Close()
}

package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"idea-tracker/internal/observability"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *observability.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *observability.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("audit_publish_failed", map[string]any{
					"topic":         topic,
					"message_count": len(messages),
					"error":         err.Error(),
				})
			}
		},
	}

	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("audit_encode_failed", map[string]any{"type": event.Type, "error": err.Error()})
		return
	}

	message := kafka.Message{
		Key:   []byte(event.Subject),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}

	if err := p.writer.WriteMessages(context.WithoutCancel(ctx), message); err != nil {
		p.logger.Error("audit_publish_failed", map[string]any{
			"topic": p.topic,
			"type":  event.Type,
			"error": err.Error(),
		})
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

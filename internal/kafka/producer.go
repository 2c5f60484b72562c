package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ramiqadoumi/go-task-reminder/pkg/telemetry"
)

// Producer publishes messages to Kafka topics.
type Producer interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

type producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Kafka producer connected to the given brokers.
func NewProducer(brokers []string) Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{}, // same task id → same partition
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return &producer{writer: w}
}

func (p *producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: traceHeaders(ctx),
		Time:    time.Now(),
	})
	if err != nil {
		telemetry.KafkaMessages.WithLabelValues(topic, "publish_error").Inc()
		return fmt.Errorf("kafka publish to %s: %w", topic, err)
	}
	telemetry.KafkaMessages.WithLabelValues(topic, "published").Inc()
	return nil
}

func (p *producer) Close() error {
	return p.writer.Close()
}

// PublishJSON marshals v and publishes it under key.
func PublishJSON(ctx context.Context, p Producer, topic, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}
	return p.Publish(ctx, topic, key, payload)
}

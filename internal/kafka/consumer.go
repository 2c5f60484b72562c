package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ramiqadoumi/go-task-reminder/pkg/telemetry"
)

// Message is one reminder-stream record as seen by a HandlerFunc.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   []kafka.Header
	Time      time.Time
}

// HandlerFunc processes one message. A nil return commits the offset; an
// error leaves it uncommitted so the group re-reads it after a rebalance or
// restart.
type HandlerFunc func(ctx context.Context, msg Message) error

// Consumer reads a single topic as part of a consumer group.
type Consumer interface {
	Subscribe(ctx context.Context, handler HandlerFunc) error
	Close() error
}

// ConsumerOption tunes the underlying reader.
type ConsumerOption func(*kafka.ReaderConfig)

// WithMaxWait bounds how long a fetch waits for new data.
func WithMaxWait(d time.Duration) ConsumerOption {
	return func(c *kafka.ReaderConfig) { c.MaxWait = d }
}

// WithLatestOffset makes a new group skip reminders published before it joined.
func WithLatestOffset() ConsumerOption {
	return func(c *kafka.ReaderConfig) { c.StartOffset = kafka.LastOffset }
}

type consumer struct {
	reader *kafka.Reader
	topic  string
	logger *slog.Logger
}

// NewConsumer joins groupID on topic. Offsets are committed explicitly, and
// a new group starts from the oldest retained reminder unless
// WithLatestOffset is given.
func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger, opts ...ConsumerOption) Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       1 << 20, // reminder events are small
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &consumer{
		reader: kafka.NewReader(cfg),
		topic:  topic,
		logger: logger.With(slog.String("topic", topic), slog.String("group", groupID)),
	}
}

// Subscribe blocks, handing each message to handler, until ctx is cancelled
// (returns nil) or the reader fails.
func (c *consumer) Subscribe(ctx context.Context, handler HandlerFunc) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch from %s: %w", c.topic, err)
		}

		if err := handler(withTrace(ctx, m.Headers), toMessage(m)); err != nil {
			telemetry.KafkaMessages.WithLabelValues(m.Topic, "handler_error").Inc()
			c.logger.Error("handler failed, offset left uncommitted",
				slog.Int("partition", m.Partition),
				slog.Int64("offset", m.Offset),
				slog.String("error", err.Error()),
			)
			continue
		}
		telemetry.KafkaMessages.WithLabelValues(m.Topic, "handled").Inc()

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			telemetry.KafkaMessages.WithLabelValues(m.Topic, "commit_error").Inc()
			c.logger.Error("commit failed",
				slog.Int("partition", m.Partition),
				slog.Int64("offset", m.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *consumer) Close() error {
	return c.reader.Close()
}

func toMessage(m kafka.Message) Message {
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Headers:   m.Headers,
		Time:      m.Time,
	}
}

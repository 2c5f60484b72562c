package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ramiqadoumi/go-task-reminder/internal/domain"
	"github.com/ramiqadoumi/go-task-reminder/internal/handlers"
	"github.com/ramiqadoumi/go-task-reminder/internal/kafka"
	redisstore "github.com/ramiqadoumi/go-task-reminder/internal/redis"
	"github.com/ramiqadoumi/go-task-reminder/pkg/retry"
	"github.com/ramiqadoumi/go-task-reminder/pkg/telemetry"
)

// Relay consumes reminder events from Kafka and delivers them on the channel
// each event names.
type Relay struct {
	consumer       kafka.Consumer
	producer       kafka.Producer
	deliveries     redisstore.DeliveryLog
	registry       *handlers.Registry
	relayID        string
	defaultChannel string
	maxRetries     int
	timeout        time.Duration
	baseDelay      time.Duration
	logger         *slog.Logger

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// Option configures a Relay.
type Option func(*Relay)

func WithRetries(n int) Option                        { return func(r *Relay) { r.maxRetries = n } }
func WithTimeout(d time.Duration) Option              { return func(r *Relay) { r.timeout = d } }
func WithLogger(l *slog.Logger) Option                { return func(r *Relay) { r.logger = l } }
func WithBaseDelay(d time.Duration) Option            { return func(r *Relay) { r.baseDelay = d } }
func WithDefaultChannel(c string) Option              { return func(r *Relay) { r.defaultChannel = c } }
func WithDeliveryLog(d redisstore.DeliveryLog) Option { return func(r *Relay) { r.deliveries = d } }

// NewRelay constructs a Relay with the given dependencies and options.
func NewRelay(
	relayID string,
	consumer kafka.Consumer,
	producer kafka.Producer,
	registry *handlers.Registry,
	opts ...Option,
) *Relay {
	r := &Relay{
		relayID:    relayID,
		consumer:   consumer,
		producer:   producer,
		registry:   registry,
		maxRetries: 3,
		timeout:    30 * time.Second,
		baseDelay:  time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run consumes reminders until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	return r.consumer.Subscribe(ctx, r.processMessage)
}

// Wait blocks until in-flight deliveries finish. Call after Run returns.
func (r *Relay) Wait() { r.wg.Wait() }

// InFlight reports the number of deliveries in progress.
func (r *Relay) InFlight() int64 { return r.inFlight.Load() }

// processMessage handles one reminder event. It returns an error only when
// the event could be neither delivered nor parked on the dead-letter topic,
// leaving the offset uncommitted.
func (r *Relay) processMessage(consumerCtx context.Context, msg kafka.Message) error {
	var event domain.ReminderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil || event.TaskID == "" {
		r.logger.Error("malformed reminder message, discarding",
			slog.Any("error", err),
			slog.String("raw", string(msg.Value)),
		)
		return nil
	}
	if event.Channel == "" {
		event.Channel = r.defaultChannel
	}

	ctx, span := otel.Tracer("relay").Start(consumerCtx, "relay.deliver_reminder")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", event.TaskID),
		attribute.String("reminder.channel", event.Channel),
		attribute.String("relay.id", r.relayID),
	)

	log := r.logger.With(
		slog.String("task_id", event.TaskID),
		slog.String("event_id", event.ID),
		slog.String("channel", event.Channel),
	)

	if r.alreadyDelivered(ctx, log, event.ID) {
		log.Info("reminder already delivered, skipping")
		telemetry.RelayDeliveries.WithLabelValues(event.Channel, "duplicate").Inc()
		return nil
	}

	h, err := r.registry.Get(event.Channel)
	if err != nil {
		log.Error("no handler for reminder channel", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "no handler registered")
		telemetry.RelayDeliveries.WithLabelValues(event.Channel, "dead").Inc()
		return r.deadLetter(ctx, log, &event, msg.Value)
	}

	r.wg.Add(1)
	r.inFlight.Add(1)
	telemetry.RelayInFlight.WithLabelValues(event.Channel).Inc()
	defer func() {
		telemetry.RelayInFlight.WithLabelValues(event.Channel).Dec()
		r.inFlight.Add(-1)
		r.wg.Done()
	}()

	start := time.Now()
	attempts := 0

	deliverErr := retry.Do(ctx, retry.Config{
		MaxAttempts: r.maxRetries + 1,
		BaseDelay:   r.baseDelay,
		OnRetry: func(attempt int, retryErr error) {
			telemetry.RelayRetriesTotal.WithLabelValues(event.Channel).Inc()
			log.Warn("delivery failed, retrying",
				slog.Int("attempt", attempt),
				slog.String("error", retryErr.Error()),
			)
		},
	}, func(context.Context) error {
		attempts++
		// The handler timeout is independent of consumer shutdown; the span
		// keeps handler spans parented here.
		execCtx, cancel := context.WithTimeout(
			trace.ContextWithSpan(context.Background(), span),
			r.timeout,
		)
		defer cancel()
		return h.Handle(execCtx, &event)
	})

	duration := time.Since(start)
	telemetry.RelayDeliveryDurationSeconds.WithLabelValues(event.Channel).Observe(duration.Seconds())

	if deliverErr != nil {
		log.Error("reminder dead after all retries",
			slog.Int("attempts", attempts),
			slog.String("error", deliverErr.Error()),
			slog.Int64("duration_ms", duration.Milliseconds()),
		)
		span.RecordError(deliverErr)
		span.SetStatus(codes.Error, "reminder exhausted all retries")
		telemetry.RelayDeliveries.WithLabelValues(event.Channel, "dead").Inc()
		return r.deadLetter(ctx, log, &event, msg.Value)
	}

	log.Info("reminder delivered",
		slog.Int("attempts", attempts),
		slog.Int64("duration_ms", duration.Milliseconds()),
	)
	telemetry.RelayDeliveries.WithLabelValues(event.Channel, "delivered").Inc()
	if r.deliveries != nil && event.ID != "" {
		if err := r.deliveries.MarkDelivered(ctx, event.ID, event.Channel); err != nil {
			log.Warn("failed to record delivery", slog.String("error", err.Error()))
		}
	}
	return nil
}

// alreadyDelivered consults the delivery log. A lookup failure counts as not
// delivered.
func (r *Relay) alreadyDelivered(ctx context.Context, log *slog.Logger, eventID string) bool {
	if r.deliveries == nil || eventID == "" {
		return false
	}
	seen, err := r.deliveries.Delivered(ctx, eventID)
	if err != nil {
		log.Warn("delivery log lookup failed", slog.String("error", err.Error()))
		return false
	}
	return seen
}

func (r *Relay) deadLetter(ctx context.Context, log *slog.Logger, event *domain.ReminderEvent, raw []byte) error {
	if err := r.producer.Publish(ctx, kafka.TopicRemindersDLQ, event.TaskID, raw); err != nil {
		log.Error("failed to publish to DLQ", slog.String("error", err.Error()))
		return fmt.Errorf("dead-letter reminder for task %s: %w", event.TaskID, err)
	}
	telemetry.RelayDLQTotal.WithLabelValues(event.Channel).Inc()
	return nil
}

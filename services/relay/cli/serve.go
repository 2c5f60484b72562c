package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-task-reminder/internal/handlers"
	"github.com/ramiqadoumi/go-task-reminder/internal/kafka"
	redisstore "github.com/ramiqadoumi/go-task-reminder/internal/redis"
	"github.com/ramiqadoumi/go-task-reminder/pkg/telemetry"
	"github.com/ramiqadoumi/go-task-reminder/services/relay"
	"github.com/ramiqadoumi/go-task-reminder/services/relay/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	serveCmd.Flags().Bool("skip-backlog", false, "start a new consumer group at the newest reminder instead of the oldest")
	serveCmd.Flags().String("redis-addr", "", "Redis address for duplicate suppression (host:port); empty disables it")
	serveCmd.Flags().Duration("delivery-ttl", 24*time.Hour, "how long delivered reminder ids are remembered")
	serveCmd.Flags().String("default-channel", "email", "channel for events that name none (email | webhook)")
	serveCmd.Flags().Int("max-retries", 3, "maximum retry attempts per reminder")
	serveCmd.Flags().Duration("deliver-timeout", 30*time.Second, "per-attempt delivery timeout")
	serveCmd.Flags().Duration("retry-base-delay", time.Second, "retry backoff base; wait = base × attempt²")
	serveCmd.Flags().String("smtp-host", "localhost", "SMTP server host")
	serveCmd.Flags().Int("smtp-port", 1025, "SMTP server port")
	serveCmd.Flags().String("smtp-from", "reminders@taskreminder.dev", "SMTP sender address")
	serveCmd.Flags().String("smtp-to", "", "reminder recipient address")
	serveCmd.Flags().String("smtp-username", "", "SMTP auth username")
	serveCmd.Flags().String("smtp-password", "", "SMTP auth password or app password")
	serveCmd.Flags().String("webhook-url", "", "endpoint reminder events are posted to; empty disables the webhook channel")
	serveCmd.Flags().String("webhook-method", "POST", "HTTP method for webhook delivery")
	serveCmd.Flags().String("metrics-addr", ":9091", "Prometheus metrics server address")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	serveCmd.Flags().Float64("otel-sample-ratio", 1, "fraction of traces kept (0-1]")

	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("skip_backlog", serveCmd.Flags(), "skip-backlog")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("delivery_ttl", serveCmd.Flags(), "delivery-ttl")
	bindFlag("default_channel", serveCmd.Flags(), "default-channel")
	bindFlag("max_retries", serveCmd.Flags(), "max-retries")
	bindFlag("deliver_timeout", serveCmd.Flags(), "deliver-timeout")
	bindFlag("retry_base_delay", serveCmd.Flags(), "retry-base-delay")
	bindFlag("smtp_host", serveCmd.Flags(), "smtp-host")
	bindFlag("smtp_port", serveCmd.Flags(), "smtp-port")
	bindFlag("smtp_from", serveCmd.Flags(), "smtp-from")
	bindFlag("smtp_to", serveCmd.Flags(), "smtp-to")
	bindFlag("smtp_username", serveCmd.Flags(), "smtp-username")
	bindFlag("smtp_password", serveCmd.Flags(), "smtp-password")
	bindFlag("webhook_url", serveCmd.Flags(), "webhook-url")
	bindFlag("webhook_method", serveCmd.Flags(), "webhook-method")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	bindFlag("otel_sample_ratio", serveCmd.Flags(), "otel-sample-ratio")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	relayID := "relay-" + uuid.New().String()[:8]

	logger := buildLogger(cfg.LogLevel, "relay").With(slog.String("relay_id", relayID))

	shutdownTracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName: "relay",
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	brokers := strings.Split(cfg.KafkaBrokers, ",")

	var consumerOpts []kafka.ConsumerOption
	if cfg.SkipBacklog {
		consumerOpts = append(consumerOpts, kafka.WithLatestOffset())
	}
	consumer := kafka.NewConsumer(brokers, kafka.TopicReminders, kafka.RelayGroupID, logger, consumerOpts...)
	defer func() { _ = consumer.Close() }()

	producer := kafka.NewProducer(brokers)
	defer func() { _ = producer.Close() }()

	registry := buildRegistry(cfg)
	opts := []relay.Option{
		relay.WithLogger(logger),
		relay.WithRetries(cfg.MaxRetries),
		relay.WithTimeout(cfg.DeliverTimeout),
		relay.WithBaseDelay(cfg.RetryBaseDelay),
		relay.WithDefaultChannel(cfg.DefaultChannel),
	}

	var ready telemetry.ReadyFunc
	if cfg.RedisAddr != "" {
		redisClient := redisstore.NewClient(cfg.RedisAddr)
		defer func() { _ = redisClient.Close() }()
		opts = append(opts, relay.WithDeliveryLog(redisstore.NewDeliveryLog(redisClient, cfg.DeliveryTTL)))
		ready = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	r := relay.NewRelay(relayID, consumer, producer, registry, opts...)

	runCtx, runCancel := context.WithCancel(context.Background())
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, ready, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down, draining in-flight reminders...")
		runCancel()
	}()

	logger.Info("relay starting",
		slog.String("topic", kafka.TopicReminders),
		slog.Any("channels", registry.Channels()),
		slog.Int("max_retries", cfg.MaxRetries),
		slog.Duration("deliver_timeout", cfg.DeliverTimeout),
	)

	if err := r.Run(runCtx); err != nil {
		return fmt.Errorf("relay: %w", err)
	}

	r.Wait()
	logger.Info("stopped cleanly")
	return nil
}

// buildRegistry registers email always and webhook when a URL is configured.
func buildRegistry(cfg config.Config) *handlers.Registry {
	registry := handlers.NewRegistry()
	registry.Register(handlers.NewEmailHandler(handlers.EmailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.SMTPFrom,
		To:       cfg.SMTPTo,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	}))
	if cfg.WebhookURL != "" {
		registry.Register(handlers.NewWebhookHandler(handlers.WebhookConfig{
			URL:     cfg.WebhookURL,
			Method:  cfg.WebhookMethod,
			Headers: cfg.WebhookHeaders,
		}))
	}
	return registry
}

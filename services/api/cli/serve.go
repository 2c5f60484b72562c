package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-task-reminder/internal/domain"
	"github.com/ramiqadoumi/go-task-reminder/internal/kafka"
	"github.com/ramiqadoumi/go-task-reminder/internal/memory"
	"github.com/ramiqadoumi/go-task-reminder/internal/notify"
	"github.com/ramiqadoumi/go-task-reminder/internal/postgres"
	redisstore "github.com/ramiqadoumi/go-task-reminder/internal/redis"
	"github.com/ramiqadoumi/go-task-reminder/internal/reminder"
	"github.com/ramiqadoumi/go-task-reminder/internal/sqlite"
	"github.com/ramiqadoumi/go-task-reminder/internal/tasks"
	"github.com/ramiqadoumi/go-task-reminder/pkg/telemetry"
	"github.com/ramiqadoumi/go-task-reminder/services/api/config"
	"github.com/ramiqadoumi/go-task-reminder/services/api/handler"
	"github.com/ramiqadoumi/go-task-reminder/services/api/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST server and the reminder scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http-port", "8080", "HTTP server port")
	serveCmd.Flags().String("metrics-addr", ":9095", "Prometheus metrics server address")
	serveCmd.Flags().String("store", config.StoreMemory, "task store: memory | sqlite | postgres")
	serveCmd.Flags().String("sqlite-path", "tasks.db", "SQLite database file (store: sqlite)")
	serveCmd.Flags().String("redis-addr", "", "Redis address for the task cache and throttling (host:port); empty disables both")
	serveCmd.Flags().Duration("cache-ttl", 10*time.Minute, "task cache entry lifetime")
	serveCmd.Flags().String("notifier", config.NotifierLog, "reminder sink: log | kafka")
	serveCmd.Flags().String("kafka-brokers", "localhost:9092", "comma-separated Kafka broker addresses")
	serveCmd.Flags().String("reminder-channel", "email", "delivery channel stamped on published reminders")
	serveCmd.Flags().Bool("publish-events", false, "publish task lifecycle events to Kafka")
	serveCmd.Flags().Int("throttle-limit", 0, "max reminders per throttle window; 0 disables throttling")
	serveCmd.Flags().Duration("throttle-window", time.Minute, "reminder throttle window")
	serveCmd.Flags().String("sweep-schedule", "@every 5m", "reconciliation sweep schedule (cron expression or descriptor)")
	serveCmd.Flags().Duration("drift-tolerance", reminder.DefaultDriftTolerance, "armed fire time drift that triggers a re-arm")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	serveCmd.Flags().Float64("otel-sample-ratio", 1, "fraction of traces kept (0-1]")

	bindFlag("http_port", serveCmd.Flags(), "http-port")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("store", serveCmd.Flags(), "store")
	bindFlag("sqlite_path", serveCmd.Flags(), "sqlite-path")
	bindFlag("redis_addr", serveCmd.Flags(), "redis-addr")
	bindFlag("cache_ttl", serveCmd.Flags(), "cache-ttl")
	bindFlag("notifier", serveCmd.Flags(), "notifier")
	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	bindFlag("reminder_channel", serveCmd.Flags(), "reminder-channel")
	bindFlag("publish_events", serveCmd.Flags(), "publish-events")
	bindFlag("throttle_limit", serveCmd.Flags(), "throttle-limit")
	bindFlag("throttle_window", serveCmd.Flags(), "throttle-window")
	bindFlag("sweep_schedule", serveCmd.Flags(), "sweep-schedule")
	bindFlag("drift_tolerance", serveCmd.Flags(), "drift-tolerance")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	bindFlag("otel_sample_ratio", serveCmd.Flags(), "otel-sample-ratio")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// pinger is implemented by stores that can report reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// backend is an opened task store plus whatever must be closed with it.
type backend struct {
	repo    domain.Repository
	ready   telemetry.ReadyFunc
	redis   *goredis.Client // nil when redis_addr is unset
	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := buildLogger(cfg.LogLevel, "api")

	shutdownTracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName: "api",
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	sweep, err := reminder.ParseSweepSchedule(cfg.SweepSchedule)
	if err != nil {
		return err
	}

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := openStore(initCtx, cfg, logger)
	cancel()
	if err != nil {
		return err
	}
	defer store.Close()

	var producer kafka.Producer
	if cfg.Notifier == config.NotifierKafka || cfg.PublishEvents {
		producer = kafka.NewProducer(strings.Split(cfg.KafkaBrokers, ","))
		defer func() { _ = producer.Close() }()
	}

	notifier := buildNotifier(cfg, producer, store.redis, logger)

	sched := reminder.New(notifier, store.repo,
		reminder.WithLogger(logger),
		reminder.WithSweepSchedule(sweep),
		reminder.WithDriftTolerance(cfg.DriftTolerance),
	)

	orchOpts := []tasks.Option{tasks.WithLogger(logger)}
	if cfg.PublishEvents {
		orchOpts = append(orchOpts, tasks.WithEventProducer(producer))
	}
	orch := tasks.NewOrchestrator(store.repo, sched, orchOpts...)
	sched.SetFiredFunc(orch.MarkNotified)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	armed, err := orch.Bootstrap(bootCtx)
	bootCancel()
	if err != nil {
		return fmt.Errorf("bootstrap reminders: %w", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	sweepHandle := sched.Start(runCtx)
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, store.ready, logger)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      newRouter(orch, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		logger.Info("api HTTP starting",
			slog.String("addr", httpSrv.Addr),
			slog.String("store", cfg.Store),
			slog.String("notifier", cfg.Notifier),
			slog.Int("armed", armed),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-quit
	logger.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}

	runCancel()
	sweepHandle.Stop()
	sched.ClearAll()
	logger.Info("stopped")
	return nil
}

func newRouter(svc handler.TaskService, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1MB limit
	r.Route("/api/v1", handler.NewREST(svc, logger).Routes)
	return r
}

// openStore opens the configured repository, wrapping it in the redis
// read-through cache when redis_addr is set.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{}

	switch cfg.Store {
	case config.StoreSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		b.closers = append(b.closers, func() { _ = db.Close() })
		b.repo = sqlite.NewRepository(db)
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		b.repo = postgres.NewRepository(pool)
		b.ready = pool.Ping
	default:
		b.repo = memory.NewRepository()
	}

	if p, ok := b.repo.(pinger); ok {
		b.ready = p.Ping
	}

	if cfg.RedisAddr != "" {
		client := redisstore.NewClient(cfg.RedisAddr)
		b.closers = append(b.closers, func() { _ = client.Close() })
		cached := redisstore.NewCachedRepository(b.repo, client, cfg.CacheTTL, logger)
		b.repo = cached
		b.ready = cached.Ping
		b.redis = client
	}
	return b, nil
}

// buildNotifier picks the reminder sink and applies the redis rate limiter
// when throttling is configured.
func buildNotifier(cfg config.Config, producer kafka.Producer, redis *goredis.Client, logger *slog.Logger) notify.Notifier {
	var n notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.Notifier == config.NotifierKafka {
		n = notify.NewKafkaNotifier(producer, kafka.TopicReminders, cfg.ReminderChannel)
	}
	if cfg.ThrottleLimit > 0 && redis != nil {
		limiter := redisstore.NewRateLimiter(redis, cfg.ThrottleLimit, cfg.ThrottleWindow)
		n = notify.NewThrottled(n, limiter, cfg.ReminderChannel, logger)
	}
	return n
}

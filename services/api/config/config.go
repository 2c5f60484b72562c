package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Notifier backends.
const (
	NotifierLog   = "log"
	NotifierKafka = "kafka"
)

// Config holds typed configuration for the api service.
type Config struct {
	LogLevel     string
	HTTPPort     string
	MetricsAddr  string
	OTelEndpoint string
	SampleRatio  float64

	Store       string
	PostgresDSN string
	SQLitePath  string
	RedisAddr   string
	CacheTTL    time.Duration

	Notifier        string
	KafkaBrokers    string
	ReminderChannel string
	PublishEvents   bool
	ThrottleLimit   int
	ThrottleWindow  time.Duration

	SweepSchedule  string
	DriftTolerance time.Duration
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:        v.GetString("log_level"),
		HTTPPort:        v.GetString("http_port"),
		MetricsAddr:     v.GetString("metrics_addr"),
		OTelEndpoint:    v.GetString("otel_endpoint"),
		SampleRatio:     v.GetFloat64("otel_sample_ratio"),
		Store:           v.GetString("store"),
		PostgresDSN:     v.GetString("postgres_dsn"),
		SQLitePath:      v.GetString("sqlite_path"),
		RedisAddr:       v.GetString("redis_addr"),
		CacheTTL:        v.GetDuration("cache_ttl"),
		Notifier:        v.GetString("notifier"),
		KafkaBrokers:    v.GetString("kafka_brokers"),
		ReminderChannel: v.GetString("reminder_channel"),
		PublishEvents:   v.GetBool("publish_events"),
		ThrottleLimit:   v.GetInt("throttle_limit"),
		ThrottleWindow:  v.GetDuration("throttle_window"),
		SweepSchedule:   v.GetString("sweep_schedule"),
		DriftTolerance:  v.GetDuration("drift_tolerance"),
	}
}

// Validate checks the settings that select backends.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("store %q requires sqlite_path", c.Store)
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("store %q requires postgres_dsn", c.Store)
		}
	default:
		return fmt.Errorf("unknown store %q (want memory, sqlite or postgres)", c.Store)
	}

	switch c.Notifier {
	case NotifierLog:
	case NotifierKafka:
		if c.KafkaBrokers == "" {
			return fmt.Errorf("notifier %q requires kafka_brokers", c.Notifier)
		}
	default:
		return fmt.Errorf("unknown notifier %q (want log or kafka)", c.Notifier)
	}

	if c.PublishEvents && c.KafkaBrokers == "" {
		return fmt.Errorf("publish_events requires kafka_brokers")
	}
	if c.ThrottleLimit > 0 && c.RedisAddr == "" {
		return fmt.Errorf("throttle_limit requires redis_addr")
	}
	return nil
}

package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the relay service.
type Config struct {
	LogLevel       string
	KafkaBrokers   string
	SkipBacklog    bool
	RedisAddr      string
	DeliveryTTL    time.Duration
	DefaultChannel string
	MaxRetries     int
	DeliverTimeout time.Duration
	RetryBaseDelay time.Duration
	SMTPHost       string
	SMTPPort       int
	SMTPFrom       string
	SMTPTo         string
	SMTPUsername   string
	SMTPPassword   string
	WebhookURL     string
	WebhookMethod  string
	WebhookHeaders map[string]string
	MetricsAddr    string
	OTelEndpoint   string
	SampleRatio    float64
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:       v.GetString("log_level"),
		KafkaBrokers:   v.GetString("kafka_brokers"),
		SkipBacklog:    v.GetBool("skip_backlog"),
		RedisAddr:      v.GetString("redis_addr"),
		DeliveryTTL:    v.GetDuration("delivery_ttl"),
		DefaultChannel: v.GetString("default_channel"),
		MaxRetries:     v.GetInt("max_retries"),
		DeliverTimeout: v.GetDuration("deliver_timeout"),
		RetryBaseDelay: v.GetDuration("retry_base_delay"),
		SMTPHost:       v.GetString("smtp_host"),
		SMTPPort:       v.GetInt("smtp_port"),
		SMTPFrom:       v.GetString("smtp_from"),
		SMTPTo:         v.GetString("smtp_to"),
		SMTPUsername:   v.GetString("smtp_username"),
		SMTPPassword:   v.GetString("smtp_password"),
		WebhookURL:     v.GetString("webhook_url"),
		WebhookMethod:  v.GetString("webhook_method"),
		WebhookHeaders: v.GetStringMapString("webhook_headers"),
		MetricsAddr:    v.GetString("metrics_addr"),
		OTelEndpoint:   v.GetString("otel_endpoint"),
		SampleRatio:    v.GetFloat64("otel_sample_ratio"),
	}
}

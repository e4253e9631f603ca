package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds typed configuration for the engine service.
type Config struct {
	LogLevel          string
	HTTPPort          string
	MetricsAddr       string
	PostgresDSN       string
	RedisAddr         string
	KafkaBrokers      string
	EventsTopic       string
	WorkersPerAgent   int
	PollInterval      time.Duration
	SchedulerInterval time.Duration
	ResolverInterval  time.Duration
	AnalyticsURL      string
	OutboxSize        int
	OTelEndpoint      string
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:          v.GetString("log_level"),
		HTTPPort:          v.GetString("http_port"),
		MetricsAddr:       v.GetString("metrics_addr"),
		PostgresDSN:       v.GetString("postgres_dsn"),
		RedisAddr:         v.GetString("redis_addr"),
		KafkaBrokers:      v.GetString("kafka_brokers"),
		EventsTopic:       v.GetString("events_topic"),
		WorkersPerAgent:   v.GetInt("workers_per_agent"),
		PollInterval:      v.GetDuration("poll_interval"),
		SchedulerInterval: v.GetDuration("scheduler_interval"),
		ResolverInterval:  v.GetDuration("resolver_interval"),
		AnalyticsURL:      v.GetString("analytics_url"),
		OutboxSize:        v.GetInt("outbox_size"),
		OTelEndpoint:      v.GetString("otel_endpoint"),
	}
}

package config

import (
	"fmt"
	"time"
)

// Config represents the application configuration
type Config struct {
	LogLevel  string          `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Venues    VenuesConfig    `mapstructure:"venues"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// WebSocketConfig represents status stream connection settings
type WebSocketConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval" validate:"gt=0"`
	PongTimeout  time.Duration `mapstructure:"pong_timeout" validate:"gtfield=PingInterval"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	SendBuffer   int           `mapstructure:"send_buffer" validate:"min=1"`
}

// DatabaseConfig represents the order store connection
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN             string        `mapstructure:"dsn" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig represents the active order cache connection
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig represents work queue settings
type QueueConfig struct {
	Concurrency  int           `mapstructure:"concurrency" validate:"min=1"`
	MaxRetries   int           `mapstructure:"max_retries" validate:"min=1"`
	BaseBackoff  time.Duration `mapstructure:"base_backoff" validate:"gt=0"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff" validate:"gtefield=BaseBackoff"`
	RateLimit    int           `mapstructure:"rate_limit" validate:"min=1"`
	RateWindow   time.Duration `mapstructure:"rate_window" validate:"gt=0"`
	JournalDir   string        `mapstructure:"journal_dir"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout" validate:"gt=0"`
}

// PipelineConfig represents execution pipeline settings
type PipelineConfig struct {
	CacheTTL          time.Duration `mapstructure:"cache_ttl" validate:"gt=0"`
	SettlementWaitMin time.Duration `mapstructure:"settlement_wait_min"`
	SettlementWaitMax time.Duration `mapstructure:"settlement_wait_max" validate:"gtefield=SettlementWaitMin"`
	UserOrdersLimit   int           `mapstructure:"user_orders_limit" validate:"min=1"`
}

// VenuesConfig represents the simulated venue and router settings
type VenuesConfig struct {
	Seed         uint64        `mapstructure:"seed"`
	QuoteTimeout time.Duration `mapstructure:"quote_timeout" validate:"gt=0"`
	MaxAmount    float64       `mapstructure:"max_amount" validate:"gt=0"`
	MaxSlippage  float64       `mapstructure:"max_slippage" validate:"gt=0,lte=1"`
	FailureRate  float64       `mapstructure:"failure_rate" validate:"gte=0,lte=1"`
}

// KafkaConfig represents the status event stream
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `mapstructure:"topic"`
}

// TracingConfig represents OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Address returns the HTTP listen address
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

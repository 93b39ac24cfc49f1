package config

import (
	"time"

	"github.com/szczecha/saleor/pkg/config"
	"github.com/szczecha/saleor/pkg/database"
	"github.com/szczecha/saleor/pkg/middleware"
	"github.com/szczecha/saleor/pkg/tracing"
)

// Config holds the promotion engine configuration, loaded from the
// environment.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	HTTP     HTTPConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Sweep    SweepConfig
	Cache    CacheConfig
	CORS     CORSConfig
	Tracing  TracingConfig
}

// HTTPConfig holds the HTTP server settings.
type HTTPConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// PostgresConfig holds the database settings.
type PostgresConfig struct {
	Host            string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port            int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User            string        `env:"POSTGRES_USER" envDefault:"saleor"`
	Password        string        `env:"POSTGRES_PASSWORD" envDefault:"saleor"`
	DBName          string        `env:"POSTGRES_DB" envDefault:"promotions"`
	SSLMode         string        `env:"POSTGRES_SSLMODE" envDefault:"disable"`
	MaxConns        int32         `env:"POSTGRES_MAX_CONNS" envDefault:"25"`
	MinConns        int32         `env:"POSTGRES_MIN_CONNS" envDefault:"5"`
	MaxConnLifetime time.Duration `env:"POSTGRES_MAX_CONN_LIFETIME" envDefault:"1h"`
	MaxConnIdleTime time.Duration `env:"POSTGRES_MAX_CONN_IDLE_TIME" envDefault:"30m"`
}

// Pool converts the settings to the shared pool configuration.
func (c PostgresConfig) Pool() database.PostgresConfig {
	return database.PostgresConfig{
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		DBName:          c.DBName,
		SSLMode:         c.SSLMode,
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLifetime: c.MaxConnLifetime,
		MaxConnIdleTime: c.MaxConnIdleTime,
	}
}

// RedisConfig holds the rule cache store settings.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Client converts the settings to the shared Redis configuration.
func (c RedisConfig) Client() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.Host,
		Port:     c.Port,
		Password: c.Password,
		DB:       c.DB,
	}
}

// KafkaConfig holds the event broker settings.
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	Enabled bool     `env:"KAFKA_ENABLED" envDefault:"true"`
}

// SweepConfig holds the lifecycle sweep settings.
type SweepConfig struct {
	Interval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
}

// CacheConfig holds the per-channel rule cache settings.
type CacheConfig struct {
	RuleTTL time.Duration `env:"RULE_CACHE_TTL" envDefault:"30s"`
	Enabled bool          `env:"RULE_CACHE_ENABLED" envDefault:"true"`
}

// CORSConfig holds the allowed cross-origin settings.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Middleware converts the settings to the shared CORS configuration.
func (c CORSConfig) Middleware() middleware.CORSConfig {
	cfg := middleware.DefaultCORSConfig()
	cfg.AllowedOrigins = c.AllowedOrigins
	return cfg
}

// TracingConfig holds the OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled      bool    `env:"TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint string  `env:"OTLP_ENDPOINT" envDefault:"localhost:4318"`
	SampleRate   float64 `env:"TRACING_SAMPLE_RATE" envDefault:"0.1"`
}

// Tracer converts the settings to the shared tracing configuration.
func (c TracingConfig) Tracer(environment, version string) tracing.Config {
	return tracing.Config{
		ServiceName:    "promotion-engine",
		ServiceVersion: version,
		Environment:    environment,
		OTLPEndpoint:   c.OTLPEndpoint,
		SampleRate:     c.SampleRate,
		Enabled:        c.Enabled,
	}
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

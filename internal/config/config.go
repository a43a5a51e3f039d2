// Package config provides configuration management for kamsentry.
//
// Configuration is loaded from multiple sources in this order:
// 1. Configuration file (YAML), if present
// 2. Environment variables (take precedence over the file)
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete worker configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Stream    StreamConfig    `mapstructure:"stream"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// AppConfig contains process-level configuration.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
}

// DatabaseConfig contains PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectRetries  int           `mapstructure:"connect_retries"`
	ConnectBackoff  time.Duration `mapstructure:"connect_backoff"`
}

// RedisConfig contains the Redis connection used for the metrics/alerts stream.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// StreamConfig contains stream-consumer tuning.
type StreamConfig struct {
	Name                string        `mapstructure:"name"`                  // redis stream key, e.g. "metrics:raw"
	ConsumerGroup       string        `mapstructure:"consumer_group"`        // e.g. "ai_service_group"
	ConsumerName        string        `mapstructure:"consumer_name"`         // e.g. "kamsentry-worker-1"
	BatchSize           int64         `mapstructure:"batch_size"`
	BlockDuration       time.Duration `mapstructure:"block_duration"`
	PendingSweepEvery   int           `mapstructure:"pending_sweep_every"`   // loop iterations between reclaim sweeps
	PendingIdleDuration time.Duration `mapstructure:"pending_idle_duration"` // min idle time before an entry is reclaimed
	DLQStream           string        `mapstructure:"dlq_stream"`
	DLQMaxLen           int64         `mapstructure:"dlq_max_len"`
	DLQTTL              time.Duration `mapstructure:"dlq_ttl"`
}

// LLMConfig contains the LLM backend HTTP client configuration.
type LLMConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Model          string        `mapstructure:"model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

// DetectorConfig contains anomaly detector tuning and artifact location.
type DetectorConfig struct {
	ArtifactPath   string  `mapstructure:"artifact_path"`
	Contamination  float64 `mapstructure:"contamination"`
	NumEstimators  int     `mapstructure:"num_estimators"`
	BootstrapSize  int     `mapstructure:"bootstrap_size"`
	RetrainSampleN int     `mapstructure:"retrain_sample_n"`
	RandomSeed     int64   `mapstructure:"random_seed"`
}

// SchedulerConfig contains cron expressions for the retrain/evaluate jobs.
type SchedulerConfig struct {
	RetrainCron  string `mapstructure:"retrain_cron"`  // default: daily at 02:00
	EvaluateCron string `mapstructure:"evaluate_cron"` // default: every 6 hours
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// AuthConfig carries the shared secret consumed by the (out-of-scope) read
// API. The worker itself never validates tokens; this field only exists so
// operators can configure one secret across processes.
type AuthConfig struct {
	JWTSecretKey string `mapstructure:"jwt_secret_key"`
}

// Validate checks the configuration for required values and internal consistency.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (dc *DatabaseConfig) Validate() error {
	if dc.URL == "" && dc.Host == "" {
		return fmt.Errorf("either database.url or database.host must be set")
	}
	if dc.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be positive")
	}
	if dc.MaxIdleConns < 0 || dc.MaxIdleConns > dc.MaxOpenConns {
		return fmt.Errorf("max_idle_conns must be between 0 and max_open_conns")
	}
	return nil
}

func (rc *RedisConfig) Validate() error {
	if rc.URL == "" {
		return fmt.Errorf("redis.url is required")
	}
	return nil
}

func (lc *LLMConfig) Validate() error {
	if lc.Host == "" {
		return fmt.Errorf("llm.host is required")
	}
	if lc.MaxConcurrency <= 0 {
		return fmt.Errorf("llm.max_concurrency must be positive")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	switch strings.ToLower(lc.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", lc.Level)
	}
	return nil
}

// Load reads configuration from an optional config.yaml, then environment
// variables (which take precedence), applies defaults, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/kamsentry")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvs()
	setDefaults()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Database.URL == "" && cfg.Database.Host != "" {
		cfg.Database.URL = cfg.GetDatabaseURL()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func bindEnvs() {
	//nolint:errcheck
	viper.BindEnv("database.url", "DATABASE_URL")
	//nolint:errcheck
	viper.BindEnv("database.host", "DB_HOST")
	//nolint:errcheck
	viper.BindEnv("database.port", "DB_PORT")
	//nolint:errcheck
	viper.BindEnv("database.user", "DB_USER")
	//nolint:errcheck
	viper.BindEnv("database.password", "DB_PASSWORD")
	//nolint:errcheck
	viper.BindEnv("database.database", "DB_NAME")

	//nolint:errcheck
	viper.BindEnv("redis.url", "REDIS_URL")

	//nolint:errcheck
	viper.BindEnv("stream.name", "STREAM_NAME")
	//nolint:errcheck
	viper.BindEnv("stream.consumer_group", "STREAM_CONSUMER_GROUP")
	//nolint:errcheck
	viper.BindEnv("stream.consumer_name", "STREAM_CONSUMER_NAME")

	//nolint:errcheck
	viper.BindEnv("llm.host", "OLLAMA_HOST")
	//nolint:errcheck
	viper.BindEnv("llm.port", "OLLAMA_PORT")
	//nolint:errcheck
	viper.BindEnv("llm.model", "OLLAMA_MODEL")
	//nolint:errcheck
	viper.BindEnv("llm.max_concurrency", "LLM_MAX_CONCURRENCY")

	//nolint:errcheck
	viper.BindEnv("detector.artifact_path", "MODEL_ARTIFACT_PATH")

	//nolint:errcheck
	viper.BindEnv("logging.level", "LOG_LEVEL")
	//nolint:errcheck
	viper.BindEnv("logging.format", "LOG_FORMAT")

	//nolint:errcheck
	viper.BindEnv("auth.jwt_secret_key", "JWT_SECRET_KEY")
}

func setDefaults() {
	viper.SetDefault("app.name", "kamsentry")
	viper.SetDefault("app.environment", "development")

	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 20)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	viper.SetDefault("database.connect_retries", 5)
	viper.SetDefault("database.connect_backoff", 5*time.Second)

	viper.SetDefault("stream.name", "metrics:raw")
	viper.SetDefault("stream.consumer_group", "ai_service_group")
	viper.SetDefault("stream.consumer_name", "kamsentry-worker-1")
	viper.SetDefault("stream.batch_size", 10)
	viper.SetDefault("stream.block_duration", 5*time.Second)
	viper.SetDefault("stream.pending_sweep_every", 50)
	viper.SetDefault("stream.pending_idle_duration", 5*time.Minute)
	viper.SetDefault("stream.dlq_stream", "metrics:raw:dlq")
	viper.SetDefault("stream.dlq_max_len", 1000)
	viper.SetDefault("stream.dlq_ttl", 7*24*time.Hour)

	viper.SetDefault("llm.port", 11434)
	viper.SetDefault("llm.model", "llama2")
	viper.SetDefault("llm.timeout", 240*time.Second)
	viper.SetDefault("llm.max_retries", 2)
	viper.SetDefault("llm.retry_delay", 5*time.Second)
	viper.SetDefault("llm.max_concurrency", 2)

	viper.SetDefault("detector.artifact_path", "/app/models/isolation_forest.gob")
	viper.SetDefault("detector.contamination", 0.1)
	viper.SetDefault("detector.num_estimators", 100)
	viper.SetDefault("detector.bootstrap_size", 1000)
	viper.SetDefault("detector.retrain_sample_n", 10000)
	viper.SetDefault("detector.random_seed", 42)

	viper.SetDefault("scheduler.retrain_cron", "0 2 * * *")
	viper.SetDefault("scheduler.evaluate_cron", "0 */6 * * *")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// GetDatabaseURL builds a PostgreSQL DSN from discrete host/port/user fields.
func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port,
		c.Database.Database, c.Database.SSLMode,
	)
}

// GetLLMBaseURL returns the base URL of the LLM backend.
func (c *Config) GetLLMBaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.LLM.Host, c.LLM.Port)
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.App.Environment, "development")
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Environment, "production")
}

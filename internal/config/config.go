package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Health      HealthConfig      `yaml:"health"`
	Healing     HealingConfig     `yaml:"healing"`
	Insights    InsightsConfig    `yaml:"insights"`
	Server      ServerConfig      `yaml:"server"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	ClickHouse  ClickHouseConfig  `yaml:"clickhouse"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	GeoIP       GeoIPConfig       `yaml:"geoip"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	State       StateConfig       `yaml:"state"`
	Batch       BatchConfig       `yaml:"batch"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type TelemetryConfig struct {
	BufferSize      int           `yaml:"buffer_size"`
	Retention       time.Duration `yaml:"retention"`
	Window          int           `yaml:"window"`
	MaxPayloadBytes int           `yaml:"max_payload_bytes"`
	DefaultRoute    string        `yaml:"default_route"`
}

type AggregationConfig struct {
	Interval time.Duration `yaml:"interval"`
	// Placeholder scoring policy, see aggregator.Policy.
	ErrorPenalty       float64       `yaml:"error_penalty"`
	SessionWarmup      time.Duration `yaml:"session_warmup"`
	LearningSaturation float64       `yaml:"learning_saturation"`
}

type HealthConfig struct {
	Interval               time.Duration `yaml:"interval"`
	CriticalErrorThreshold int           `yaml:"critical_error_threshold"`
	MemoryLimitBytes       uint64        `yaml:"memory_limit_bytes"`
	MemoryPressureRatio    float64       `yaml:"memory_pressure_ratio"`
	MaxRecoveryAttempts    int           `yaml:"max_recovery_attempts"`
}

type HealingConfig struct {
	AutoEnabled                *bool         `yaml:"auto_enabled"`
	HistoryRetention           time.Duration `yaml:"history_retention"`
	PerformanceDegradeDuration time.Duration `yaml:"performance_degrade_duration"`
	EmergencyReloadDelay       time.Duration `yaml:"emergency_reload_delay"`
	PreservedStateKeys         []string      `yaml:"preserved_state_keys"`
}

type InsightsConfig struct {
	DedupWindow  time.Duration `yaml:"dedup_window"`
	Retention    time.Duration `yaml:"retention"`
	MaxAutoApply int           `yaml:"max_auto_apply"`
}

type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`
	GRPCPort int `yaml:"grpc_port"`
}

type KafkaConfig struct {
	Brokers       []string          `yaml:"brokers"`
	Topics        map[string]string `yaml:"topics"`
	ConsumerGroup string            `yaml:"consumer_group"`
}

type ClickHouseConfig struct {
	Addr         string `yaml:"addr"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// RateLimitConfig bounds POST /v1/events per client. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
}

// StateConfig selects where persisted client state lives. Backend is one of
// memory, redis or postgres.
type StateConfig struct {
	Backend string `yaml:"backend"`
	Prefix  string `yaml:"prefix"`
}

type BatchConfig struct {
	Size          int           `yaml:"size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// AutoHealing reports whether automatic healing starts enabled.
func (c HealingConfig) AutoHealing() bool {
	return c.AutoEnabled == nil || *c.AutoEnabled
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied and no
// external backends configured.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with the reference cadences and thresholds.
func (cfg *Config) ApplyDefaults() {
	if cfg.Telemetry.BufferSize == 0 {
		cfg.Telemetry.BufferSize = 1000
	}
	if cfg.Telemetry.Retention == 0 {
		cfg.Telemetry.Retention = 30 * time.Minute
	}
	if cfg.Telemetry.Window == 0 {
		cfg.Telemetry.Window = 20
	}
	if cfg.Telemetry.MaxPayloadBytes == 0 {
		cfg.Telemetry.MaxPayloadBytes = 64 * 1024
	}
	if cfg.Telemetry.DefaultRoute == "" {
		cfg.Telemetry.DefaultRoute = "/"
	}

	if cfg.Aggregation.Interval == 0 {
		cfg.Aggregation.Interval = 5 * time.Second
	}
	if cfg.Aggregation.ErrorPenalty == 0 {
		cfg.Aggregation.ErrorPenalty = 10
	}
	if cfg.Aggregation.SessionWarmup == 0 {
		cfg.Aggregation.SessionWarmup = 5 * time.Minute
	}
	if cfg.Aggregation.LearningSaturation == 0 {
		cfg.Aggregation.LearningSaturation = 10
	}

	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = 15 * time.Second
	}
	if cfg.Health.CriticalErrorThreshold == 0 {
		cfg.Health.CriticalErrorThreshold = 7
	}
	if cfg.Health.MemoryPressureRatio == 0 {
		cfg.Health.MemoryPressureRatio = 0.85
	}
	if cfg.Health.MaxRecoveryAttempts == 0 {
		cfg.Health.MaxRecoveryAttempts = 5
	}

	if cfg.Healing.HistoryRetention == 0 {
		cfg.Healing.HistoryRetention = time.Hour
	}
	if cfg.Healing.PerformanceDegradeDuration == 0 {
		cfg.Healing.PerformanceDegradeDuration = 30 * time.Second
	}
	if cfg.Healing.EmergencyReloadDelay == 0 {
		cfg.Healing.EmergencyReloadDelay = 2 * time.Second
	}
	if len(cfg.Healing.PreservedStateKeys) == 0 {
		cfg.Healing.PreservedStateKeys = []string{"auth_token", "user_preferences", "neural_session_id"}
	}

	if cfg.Insights.DedupWindow == 0 {
		cfg.Insights.DedupWindow = 5 * time.Minute
	}
	if cfg.Insights.Retention == 0 {
		cfg.Insights.Retention = 24 * time.Hour
	}
	if cfg.Insights.MaxAutoApply == 0 {
		cfg.Insights.MaxAutoApply = 2
	}

	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}

	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "neuroloop"
	}

	if cfg.ClickHouse.MaxOpenConns == 0 {
		cfg.ClickHouse.MaxOpenConns = 10
	}
	if cfg.ClickHouse.MaxIdleConns == 0 {
		cfg.ClickHouse.MaxIdleConns = 5
	}

	if cfg.State.Backend == "" {
		cfg.State.Backend = "memory"
	}
	if cfg.State.Prefix == "" {
		cfg.State.Prefix = "client_state:"
	}

	if cfg.Batch.Size == 0 {
		cfg.Batch.Size = 1000
	}
	if cfg.Batch.FlushInterval == 0 {
		cfg.Batch.FlushInterval = 5 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

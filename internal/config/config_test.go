package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "neuroloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  http_port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 1000, cfg.Telemetry.BufferSize)
	assert.Equal(t, 30*time.Minute, cfg.Telemetry.Retention)
	assert.Equal(t, 20, cfg.Telemetry.Window)
	assert.Equal(t, 5*time.Second, cfg.Aggregation.Interval)
	assert.Equal(t, 15*time.Second, cfg.Health.Interval)
	assert.Equal(t, 7, cfg.Health.CriticalErrorThreshold)
	assert.Equal(t, time.Hour, cfg.Healing.HistoryRetention)
	assert.Equal(t, []string{"auth_token", "user_preferences", "neural_session_id"}, cfg.Healing.PreservedStateKeys)
	assert.Equal(t, 2, cfg.Insights.MaxAutoApply)
	assert.Equal(t, "memory", cfg.State.Backend)
	assert.True(t, cfg.Healing.AutoHealing())
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("NEUROLOOP_REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load(writeConfig(t, "redis:\n  addr: ${NEUROLOOP_REDIS_ADDR}\nhealing:\n  auto_enabled: false\n"))
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	assert.False(t, cfg.Healing.AutoHealing())
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "telemetry: [not, a, map]\n"))
	assert.Error(t, err)
}

func TestLoad_ShippedConfig(t *testing.T) {
	for _, name := range []string{"CLICKHOUSE_ADDR", "CLICKHOUSE_PASSWORD", "REDIS_ADDR", "REDIS_PASSWORD", "POSTGRES_DSN", "GEOIP_DATABASE_PATH"} {
		t.Setenv(name, "")
	}

	cfg, err := Load(filepath.Join("..", "..", "config", "neuroloop.yaml"))
	require.NoError(t, err)

	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "neuroloop.alerts", cfg.Kafka.Topics["alerts"])
	assert.Empty(t, cfg.ClickHouse.Addr)
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, "client_state:", cfg.State.Prefix)
	assert.Equal(t, 5*time.Second, cfg.Batch.FlushInterval)
}

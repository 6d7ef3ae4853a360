package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teich/bank4/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 12*time.Hour, cfg.Accrual.MinTimeBetweenRuns)
	assert.Equal(t, time.Hour, cfg.Accrual.SchedulerInterval)
	assert.Equal(t, 1, cfg.Accrual.Concurrency)
	assert.False(t, cfg.Accrual.CarryForwardRemainder)
	assert.Equal(t, 5, cfg.Outbox.MaxRetries)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	// GIVEN: A YAML file and environment overrides
	path := filepath.Join(t.TempDir(), "bank4.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: production
server:
  port: 9000
accrual:
  concurrency: 4
  carry_forward_remainder: true
kafka:
  brokers: ["k1:9092", "k2:9092"]
`), 0o600))
	t.Setenv("BANK4_DATABASE_PATH", "/data/bank4.db")
	t.Setenv("CRON_SECRET", "s3cret")

	// WHEN: Loading
	cfg, err := config.Load(config.New(), path)
	require.NoError(t, err)

	// THEN: File values and env values are both applied
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Accrual.Concurrency)
	assert.True(t, cfg.Accrual.CarryForwardRemainder)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "/data/bank4.db", cfg.Database.Path)
	assert.Equal(t, "s3cret", cfg.Auth.CronSecret)
}

func TestLoad_RejectsUnknownEnvironment(t *testing.T) {
	v := config.New()
	v.Set("environment", "staging")
	_, err := config.Load(v, "")
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(config.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

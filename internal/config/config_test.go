package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig(slog.Default())
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, 24*time.Hour, cfg.Queue.MessageTTL)
	assert.Equal(t, 3, cfg.Queue.MaxDeliveries)
	assert.Equal(t, 3, cfg.Queue.PublishRetries)
	assert.Equal(t, 50, cfg.GitHub.BatchSize)
	assert.Equal(t, 100, cfg.Transform.UpsertBatchSize)
	assert.Equal(t, 30*time.Second, cfg.Jira.RequestTimeout)
	assert.True(t, cfg.Scheduler.Enabled)
}

func TestNewConfig_EnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PORT", "6432")
	t.Setenv("GITHUB_BATCH_SIZE", "25")
	t.Setenv("SCHEDULER_TICK_INTERVAL", "1s")

	cfg, err := NewConfig(slog.Default())
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6432, cfg.Database.Port)
	assert.Equal(t, 25, cfg.GitHub.BatchSize)
	assert.Equal(t, time.Second, cfg.Scheduler.TickInterval)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "localhost", Port: 5432,
		User: "syncd", Password: "pw",
		Database: "syncd", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://syncd:pw@localhost:5432/syncd?sslmode=disable", d.DSN())
}

func TestReplicaConfig_DSN(t *testing.T) {
	primary := DatabaseConfig{
		Host: "primary", Port: 5432,
		User: "syncd", Password: "pw",
		Database: "syncd", SSLMode: "require",
	}
	r := ReplicaConfig{Host: "replica", Port: 5433}

	assert.True(t, r.IsConfigured())
	assert.Equal(t, "postgres://syncd:pw@replica:5433/syncd?sslmode=require", r.DSN(&primary))

	empty := ReplicaConfig{}
	assert.False(t, empty.IsConfigured())
}

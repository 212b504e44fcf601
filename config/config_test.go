package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, 50, cfg.SnapshotEvery)
	require.Equal(t, "order-service", cfg.PublisherClientID)
	require.Equal(t, []string{"localhost:9092"}, cfg.PublisherBootstrap)
	require.Equal(t, 3, cfg.PublisherMaxRetries)

	require.Equal(t, "order-projections", cfg.ConsumerGroupID)
	require.Equal(t, "earliest", cfg.ConsumerAutoOffsetReset)
	require.False(t, cfg.ConsumerEnableAutoCommit)
	require.Equal(t, 128, cfg.ConsumerMaxParked)

	require.Equal(t, "orders.commands", cfg.CommandsTopic)
	require.Equal(t, 3, cfg.HandlerMaxRetries)
	require.Equal(t, 10*time.Second, cfg.SweepInterval)
	require.Equal(t, 100, cfg.SweepBatchSize)
	require.Equal(t, 30*time.Second, cfg.SweepGracePeriod)

	require.Equal(t, "orders", cfg.ElasticSearchPrefix)
	require.Equal(t, 5*time.Minute, cfg.RedisTTL)
	require.True(t, cfg.EnableMigrations)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("ORDERS_EVENT_LOG_SNAPSHOT_EVERY", "10")
	t.Setenv("ORDERS_CONSUMER_GROUP_ID", "other-projections")
	t.Setenv("ORDERS_LOGGING_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 10, cfg.SnapshotEvery)
	require.Equal(t, "other-projections", cfg.ConsumerGroupID)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfigRejectsAutoCommit(t *testing.T) {
	// Offsets must only be committed after the read-model transaction, so
	// turning on broker-side auto commit is a misconfiguration, not a choice.
	t.Setenv("ORDERS_CONSUMER_ENABLE_AUTO_COMMIT", "true")

	_, err := LoadConfig()
	require.Error(t, err)
	require.Contains(t, err.Error(), "enable_auto_commit")
}

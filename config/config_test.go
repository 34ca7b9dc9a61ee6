package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Analytics.SampleInterval)
	assert.Equal(t, time.Hour, cfg.Analytics.ViewerWindow)
	assert.Equal(t, 30*time.Minute, cfg.Analytics.EngagementWindow)
	assert.Equal(t, 10, cfg.Analytics.TrendBuckets)
	assert.Equal(t, time.Minute, cfg.Analytics.TrendBucketWidth)
	assert.Zero(t, cfg.Analytics.IdleTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ANALYTICS_IDLE_TIMEOUT_SEC", "90")
	t.Setenv("WS_MESSAGES_PER_SEC", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Analytics.IdleTimeout)
	assert.InDelta(t, 2.5, cfg.Gateway.MessagesPerSecond, 0.0001)
}

func TestLoad_RejectsNonPositiveTrendBuckets(t *testing.T) {
	t.Setenv("ANALYTICS_TREND_BUCKETS", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/n?sslmode=disable", c.DSN())

	c.URL = "postgres://override"
	assert.Equal(t, "postgres://override", c.DSN())
}

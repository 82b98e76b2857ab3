package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "extract.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 0.7, cfg.Extraction.ReviewThreshold, 1e-9)
	assert.Equal(t, 48, cfg.Extraction.HistoricalGraceH)
	assert.Equal(t, 25, cfg.Batch.WindowSize)
	assert.Equal(t, 5, cfg.Batch.Concurrency)
	assert.Equal(t, 2, cfg.Learning.MinSamplesPerCluster)
	assert.Equal(t, 25, cfg.Learning.MaxSamplesPerPrompt)
	assert.InDelta(t, 0.6, cfg.Learning.MinSuccessRate, 1e-9)
	assert.Equal(t, 20, cfg.Learning.DeactivateAttempts)
	assert.InDelta(t, 0.3, cfg.Learning.DeactivateFloor, 1e-9)
	assert.Contains(t, cfg.ServiceArea.RejectKeywords, "cebu")
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GIGMAP_STORE_DRIVER", "postgres")
	t.Setenv("GIGMAP_BATCH_WINDOW_SIZE", "10")
	t.Setenv("GIGMAP_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 10, cfg.Batch.WindowSize)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestBatchConfigDurations(t *testing.T) {
	b := BatchConfig{WindowDelaySecs: 3, BudgetMins: 50}
	assert.Equal(t, 3*time.Second, b.WindowDelay())
	assert.Equal(t, 50*time.Minute, b.Budget())

	assert.Zero(t, BatchConfig{}.Budget())
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))

	err := InitLogger(LogConfig{Level: "shout", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "https://cotizaciones.opengov.uy/api", cfg.Rates.BaseURL)
	assert.Equal(t, 30, cfg.Rates.TimeoutSecs)
	assert.Equal(t, 3, cfg.Rates.MaxRetries)
	assert.Equal(t, "rates-cache.db", cfg.Rates.CachePath)
	assert.Empty(t, cfg.Rates.StaticPath)
	assert.Equal(t, 500, cfg.Pipeline.BatchSize)
	assert.Equal(t, 120, cfg.Pipeline.BatchTimeoutSecs)
	assert.Equal(t, 120, cfg.Pipeline.RunTimeoutMins)
	assert.InDelta(t, 100000, cfg.Anomaly.HighValueThreshold, 0.001)
	assert.Equal(t, 5, cfg.Anomaly.MinGroupSize)
	assert.InDelta(t, 10, cfg.Anomaly.SpikeMultiplier, 0.001)
	assert.Empty(t, cfg.Store.DatabaseURL)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chTempDir(t)

	yaml := `
store:
  database_url: postgres://localhost/compras
  pool:
    max_conns: 20
log:
  level: debug
  format: console
pipeline:
  batch_size: 1000
anomaly:
  min_group_size: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/compras", cfg.Store.DatabaseURL)
	require.NotNil(t, cfg.Store.Pool)
	assert.Equal(t, int32(20), cfg.Store.Pool.MaxConns)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 1000, cfg.Pipeline.BatchSize)
	assert.Equal(t, 8, cfg.Anomaly.MinGroupSize)
	// Defaults still apply for unset values
	assert.Equal(t, 120, cfg.Pipeline.BatchTimeoutSecs)
	assert.InDelta(t, 10, cfg.Anomaly.SpikeMultiplier, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chTempDir(t)

	yaml := `
pipeline:
  batch_size: 1000
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("COMPRAS_PIPELINE_BATCH_SIZE", "250")
	t.Setenv("COMPRAS_STORE_DATABASE_URL", "postgres://env/compras")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.Pipeline.BatchSize)
	assert.Equal(t, "postgres://env/compras", cfg.Store.DatabaseURL)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.NotNil(t, zap.L())
}

func TestInitLogger_BadLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogConfig{Level: "loud", Format: "json"}))
}

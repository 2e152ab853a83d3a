package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chtemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chtemp(t)
	// allow_external defaults on, so a token must be present.
	t.Setenv("SAGEPOINT_EQC_TOKEN", "test-token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "identity.db", cfg.Store.SQLitePath)
	assert.Equal(t, 15, cfg.EQC.TimeoutSecs)
	assert.Equal(t, 2, cfg.EQC.RetryMax)
	assert.Equal(t, 60, cfg.EQC.RatePerMinute)
	assert.Equal(t, "overrides", cfg.Resolver.OverridesDir)
	assert.Equal(t, "company_id", cfg.Resolver.TargetColumn)
	assert.True(t, cfg.Resolver.AllowExternal)
	assert.Equal(t, 100, cfg.Resolver.Budget)
	assert.True(t, cfg.Resolver.AllowTempID)
	assert.True(t, cfg.Learning.Enabled)
	assert.Equal(t, 10, cfg.Learning.MinRecords)
	assert.InDelta(t, 0.10, cfg.Reference.AutoDerivedThreshold, 0.001)
	assert.InDelta(t, 0.05, cfg.Monitoring.UnresolvedRateThreshold, 0.001)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chtemp(t)

	yaml := `
store:
  driver: sqlite
resolver:
  allow_external: false
  budget: 25
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.False(t, cfg.Resolver.AllowExternal)
	assert.Equal(t, 25, cfg.Resolver.Budget)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 10, cfg.Learning.MinRecords)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chtemp(t)

	yaml := `
store:
  driver: sqlite
resolver:
  allow_external: false
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("SAGEPOINT_STORE_DRIVER", "postgres")
	t.Setenv("SAGEPOINT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chtemp(t)
	t.Setenv("SAGEPOINT_EQC_TOKEN", "test-token")
	t.Setenv("SAGEPOINT_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoad_ExternalWithoutTokenFails(t *testing.T) {
	chtemp(t)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eqc.token")
}

func TestLoad_UnknownDriverFails(t *testing.T) {
	dir := chtemp(t)

	yaml := `
store:
  driver: oracle
resolver:
  allow_external: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store driver")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

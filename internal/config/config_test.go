package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "0.0.0.0", cfg.Server.Host)
	require.Equal(t, "release", cfg.Server.Mode)
	require.Equal(t, 25, cfg.Database.MaxOpenConns)
	require.True(t, cfg.Database.AutoMigrate)
	require.Equal(t, "./config/rollups", cfg.Rollups.ConfigDir)
	require.False(t, cfg.Rollups.Strict)
	require.True(t, cfg.Rollups.SchedulerEnabled)

	defaults, err := cfg.Rollups.Defaults()
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, defaults.SalesHourCadence)
	require.Equal(t, 10*time.Minute, defaults.ProductDayCadence)
	require.Equal(t, time.Hour, defaults.DeliveryP90Cadence)
	require.Equal(t, 2*time.Minute, defaults.MaxRefreshDuration)

	stopTimeout, err := cfg.Rollups.ParsedStopTimeout()
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, stopTimeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mesa.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  mode: debug
database:
  dsn: postgres://db:5432/mesa_test?sslmode=disable
rollups:
  strict: true
  sales_hour_cadence: 1m
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.Mode)
	require.Equal(t, "postgres://db:5432/mesa_test?sslmode=disable", cfg.Database.DSN)
	require.True(t, cfg.Rollups.Strict)

	defaults, err := cfg.Rollups.Defaults()
	require.NoError(t, err)
	require.Equal(t, time.Minute, defaults.SalesHourCadence)
	// Unset fields keep their defaults.
	require.Equal(t, 10*time.Minute, defaults.ProductDayCadence)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MESA_SERVER__PORT", "7070")
	t.Setenv("MESA_ROLLUPS__PRODUCT_DAY_CADENCE", "30m")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)

	defaults, err := cfg.Rollups.Defaults()
	require.NoError(t, err)
	require.Equal(t, 30*time.Minute, defaults.ProductDayCadence)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestRollupsConfigInvalidDurations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RollupsConfig)
	}{
		{name: "unparseable cadence", mutate: func(c *RollupsConfig) { c.SalesHourCadence = "every 5 minutes" }},
		{name: "zero cadence", mutate: func(c *RollupsConfig) { c.ProductDayCadence = "0s" }},
		{name: "negative max duration", mutate: func(c *RollupsConfig) { c.MaxRefreshDuration = "-1m" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(&cfg.Rollups)
			_, err = cfg.Rollups.Defaults()
			require.Error(t, err)
		})
	}
}

func TestParsedStopTimeoutInvalid(t *testing.T) {
	cfg := RollupsConfig{StopTimeout: "soon"}
	_, err := cfg.ParsedStopTimeout()
	require.Error(t, err)
}

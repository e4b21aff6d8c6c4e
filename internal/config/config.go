package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/mesa-analytics/mesa/internal/rollup"
)

// Config represents the top-level configuration for Mesa.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Rollups  RollupsConfig  `koanf:"rollups"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port int    `koanf:"port"`
	Host string `koanf:"host"`
	Mode string `koanf:"mode"` // "debug" or "release"
}

// DatabaseConfig holds the database connection settings.
type DatabaseConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	AutoMigrate  bool   `koanf:"auto_migrate"`
}

// RollupsConfig holds the refresh pipeline settings. Cadences are the
// operational freshness/cost tradeoff for the built-in rollups; changing
// them takes effect on restart (re-registration), not on a running job.
type RollupsConfig struct {
	ConfigDir          string `koanf:"config_dir"`
	Strict             bool   `koanf:"strict"`
	SchedulerEnabled   bool   `koanf:"scheduler_enabled"`
	StopTimeout        string `koanf:"stop_timeout"`
	MaxRefreshDuration string `koanf:"max_refresh_duration"`
	SalesHourCadence   string `koanf:"sales_hour_cadence"`
	ProductDayCadence  string `koanf:"product_day_cadence"`
	DeliveryP90Cadence string `koanf:"delivery_p90_cadence"`
}

// Defaults resolves the duration fields into rollup.Defaults.
func (c RollupsConfig) Defaults() (rollup.Defaults, error) {
	var d rollup.Defaults
	var err error
	if d.SalesHourCadence, err = parseDuration("rollups.sales_hour_cadence", c.SalesHourCadence); err != nil {
		return d, err
	}
	if d.ProductDayCadence, err = parseDuration("rollups.product_day_cadence", c.ProductDayCadence); err != nil {
		return d, err
	}
	if d.DeliveryP90Cadence, err = parseDuration("rollups.delivery_p90_cadence", c.DeliveryP90Cadence); err != nil {
		return d, err
	}
	if d.MaxRefreshDuration, err = parseDuration("rollups.max_refresh_duration", c.MaxRefreshDuration); err != nil {
		return d, err
	}
	return d, nil
}

// ParsedStopTimeout resolves the scheduler stop timeout.
func (c RollupsConfig) ParsedStopTimeout() (time.Duration, error) {
	return parseDuration("rollups.stop_timeout", c.StopTimeout)
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration for %s must be positive, got %q", key, value)
	}
	return d, nil
}

// Load loads the configuration from the given file path and environment
// variables. MESA_SERVER__PORT=9090 overrides server.port.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	defaults := map[string]interface{}{
		"server.port":                  8080,
		"server.host":                  "0.0.0.0",
		"server.mode":                  "release",
		"database.dsn":                 "postgres://localhost:5432/mesa?sslmode=disable",
		"database.max_open_conns":      25,
		"database.max_idle_conns":      25,
		"database.auto_migrate":        true,
		"rollups.config_dir":           "./config/rollups",
		"rollups.strict":               false,
		"rollups.scheduler_enabled":    true,
		"rollups.stop_timeout":         "30s",
		"rollups.max_refresh_duration": "2m",
		"rollups.sales_hour_cadence":   "5m",
		"rollups.product_day_cadence":  "10m",
		"rollups.delivery_p90_cadence": "1h",
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// 2. Load from file
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// 3. Load from environment variables
	if err := k.Load(env.Provider("MESA_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "MESA_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "simulate", cfg.Mode)
	assert.True(t, cfg.Simulation.USDAmount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 5, cfg.Simulation.DepthLevels)
	assert.False(t, cfg.Simulation.AllowPartial)
	assert.True(t, cfg.Impact.FeeRate.Equal(decimal.RequireFromString("0.001")))
	assert.False(t, cfg.Predictors().Enabled())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "monitor"

[feed]
instrument = "ETH-USDT-SWAP"
reconnect_delay = "1s"

[simulation]
usd_amount = "250.5"
allow_partial = true

[impact]
fee_rate = 0.0005

[predict.slippage]
enabled = true
intercept = 0.01
usd_amount = 0.0002
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, "ETH-USDT-SWAP", cfg.Feed.Instrument)
	assert.Equal(t, time.Second, cfg.Feed.ReconnectDelay.Duration)
	assert.Equal(t, 60*time.Second, cfg.Feed.MaxReconnectDelay.Duration)
	assert.True(t, cfg.Simulation.USDAmount.Equal(decimal.RequireFromString("250.5")))
	assert.True(t, cfg.Simulation.AllowPartial)
	assert.True(t, cfg.Impact.FeeRate.Equal(decimal.RequireFromString("0.0005")))
	assert.True(t, cfg.Impact.Eta.Equal(decimal.RequireFromString("0.1")))

	set := cfg.Predictors()
	require.NotNil(t, set.Slippage)
	assert.Nil(t, set.MakerTaker)
	assert.InDelta(t, 0.01, set.Slippage.Intercept, 1e-12)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeTOML(t, `
[simulation]
usd_amonut = 5
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulation.usd_amonut")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COSTSIM_MODE", "archive")
	t.Setenv("COSTSIM_SIMULATION_USD_AMOUNT", "42")
	t.Setenv("COSTSIM_POSTGRES_ENABLED", "true")
	t.Setenv("COSTSIM_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("COSTSIM_FEED_MAX_RECONNECT_DELAY", "2m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "archive", cfg.Mode)
	assert.True(t, cfg.Simulation.USDAmount.Equal(decimal.NewFromInt(42)))
	assert.True(t, cfg.Postgres.Enabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 2*time.Minute, cfg.Feed.MaxReconnectDelay.Duration)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrideParseErrors(t *testing.T) {
	t.Setenv("COSTSIM_SIMULATION_USD_AMOUNT", "lots")
	t.Setenv("COSTSIM_REDIS_ENABLED", "maybe")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COSTSIM_SIMULATION_USD_AMOUNT")
	assert.Contains(t, err.Error(), "COSTSIM_REDIS_ENABLED")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad mode", func(c *Config) { c.Mode = "trade" }, `unknown mode "trade"`},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log_level"},
		{"zero notional", func(c *Config) { c.Simulation.USDAmount = decimalValue{decimal.Zero} }, "usd_amount must be > 0"},
		{"negative notional", func(c *Config) { c.Simulation.USDAmount = decimalValue{decimal.NewFromInt(-1)} }, "usd_amount must be > 0"},
		{"depth", func(c *Config) { c.Simulation.DepthLevels = 0 }, "depth_levels"},
		{"fee rate", func(c *Config) { c.Impact.FeeRate = decimalValue{decimal.NewFromInt(2)} }, "fee_rate"},
		{"daily volume", func(c *Config) { c.Impact.DailyVolume = decimalValue{decimal.Zero} }, "daily_volume"},
		{"feed source", func(c *Config) { c.Feed.Source = "kafka" }, `unknown source "kafka"`},
		{"redis feed without redis", func(c *Config) { c.Feed.Source = "redis" }, "requires redis.enabled"},
		{"backoff order", func(c *Config) { c.Feed.MaxReconnectDelay.Duration = time.Second }, "max_reconnect_delay"},
		{"archive without postgres", func(c *Config) { c.Mode = "archive" }, "requires postgres.enabled"},
		{"archive retention", func(c *Config) {
			c.Mode = "archive"
			c.Postgres.Enabled = true
			c.Archive.RetentionDays = 0
		}, "retention_days"},
		{"archive cron", func(c *Config) {
			c.Mode = "archive"
			c.Postgres.Enabled = true
			c.Archive.Cron = "61 * * * *"
		}, "archive: cron"},
		{"monitor port", func(c *Config) {
			c.Mode = "monitor"
			c.Server.Port = 0
		}, "server: port"},
		{"pool bounds", func(c *Config) {
			c.Postgres.Enabled = true
			c.Postgres.PoolMinConns = 20
		}, "pool_min_conns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCollectsEveryError(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "nope"
	cfg.LogLevel = "nope"
	cfg.Simulation.DepthLevels = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "depth_levels")
}

func TestArchiveModeSkipsFeedChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	cfg.Postgres.Enabled = true
	cfg.Feed.URL = ""
	cfg.Simulation.USDAmount = decimalValue{decimal.Zero}
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg"
	cfg.S3.SecretKey = "s3"
	cfg.Server.APIKey = "key"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.S3.SecretKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Empty(t, out.Redis.Password)
	assert.Equal(t, "pg", cfg.Postgres.Password)

	out.Server.CORSOrigins[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
}

func TestLoadDecimalKeepsSmallFloats(t *testing.T) {
	path := writeTOML(t, `
[simulation]
usd_amount = 250

[impact]
epsilon = 1e-7
eta = 0.00000005
volatility = "0.015"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Simulation.USDAmount.Equal(decimal.NewFromInt(250)))
	assert.True(t, cfg.Impact.Epsilon.Equal(decimal.RequireFromString("0.0000001")), "epsilon %s", cfg.Impact.Epsilon)
	assert.True(t, cfg.Impact.Eta.Equal(decimal.RequireFromString("0.00000005")), "eta %s", cfg.Impact.Eta)
	assert.True(t, cfg.Impact.Volatility.Equal(decimal.RequireFromString("0.015")))

	params := cfg.CostParams()
	assert.True(t, params.Epsilon.IsPositive())
}

func TestLoadDecimalRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad string", "[impact]\neta = \"abc\"\n"},
		{"nan", "[impact]\neta = nan\n"},
		{"boolean", "[impact]\neta = true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTOML(t, tt.body))
			assert.Error(t, err)
		})
	}
}

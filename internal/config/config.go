// Package config defines the top-level configuration for costsim and
// provides validation helpers.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/costsim/internal/pipeline"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COSTSIM_* environment variables.
type Config struct {
	Feed       FeedConfig       `toml:"feed"`
	Simulation SimulationConfig `toml:"simulation"`
	Impact     ImpactConfig     `toml:"impact"`
	Predict    PredictConfig    `toml:"predict"`
	Redis      RedisConfig      `toml:"redis"`
	Postgres   PostgresConfig   `toml:"postgres"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// FeedConfig selects the market-data source. "ws" reads the L2 websocket
// directly; "redis" reads snapshots another process publishes on the bus.
type FeedConfig struct {
	Source            string   `toml:"source"`
	URL               string   `toml:"url"`
	Instrument        string   `toml:"instrument"`
	ReconnectDelay    duration `toml:"reconnect_delay"`
	MaxReconnectDelay duration `toml:"max_reconnect_delay"`
	HandshakeTimeout  duration `toml:"handshake_timeout"`
}

// SimulationConfig is the per-tick order being simulated.
type SimulationConfig struct {
	USDAmount    decimalValue `toml:"usd_amount"`
	DepthLevels  int          `toml:"depth_levels"`
	AllowPartial bool         `toml:"allow_partial"`
}

// ImpactConfig holds the fee and market impact coefficients.
type ImpactConfig struct {
	FeeRate     decimalValue `toml:"fee_rate"`
	Eta         decimalValue `toml:"eta"`
	Epsilon     decimalValue `toml:"epsilon"`
	Volatility  decimalValue `toml:"volatility"`
	DailyVolume decimalValue `toml:"daily_volume"`
}

// PredictConfig holds the coefficients of the optional predictive models.
type PredictConfig struct {
	Slippage   SlippageModelConfig   `toml:"slippage"`
	MakerTaker MakerTakerModelConfig `toml:"maker_taker"`
}

// SlippageModelConfig is a linear model over notional and best ask.
type SlippageModelConfig struct {
	Enabled   bool    `toml:"enabled"`
	Intercept float64 `toml:"intercept"`
	USDAmount float64 `toml:"usd_amount"`
	BestAsk   float64 `toml:"best_ask"`
}

// MakerTakerModelConfig is a logistic model over notional, spread and depth.
type MakerTakerModelConfig struct {
	Enabled   bool    `toml:"enabled"`
	Intercept float64 `toml:"intercept"`
	USDAmount float64 `toml:"usd_amount"`
	Spread    float64 `toml:"spread"`
	Depth     float64 `toml:"depth"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	BookTTL      duration `toml:"book_ttl"`
}

// PostgresConfig holds PostgreSQL connection and result-writer parameters.
type PostgresConfig struct {
	Enabled          bool     `toml:"enabled"`
	DSN              string   `toml:"dsn"`
	Host             string   `toml:"host"`
	Port             int      `toml:"port"`
	Database         string   `toml:"database"`
	User             string   `toml:"user"`
	Password         string   `toml:"password"`
	SSLMode          string   `toml:"ssl_mode"`
	PoolMaxConns     int      `toml:"pool_max_conns"`
	PoolMinConns     int      `toml:"pool_min_conns"`
	StatementTimeout duration `toml:"statement_timeout"`
	RunMigrations    bool     `toml:"run_migrations"`
	BatchSize        int      `toml:"batch_size"`
	FlushInterval    duration `toml:"flush_interval"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the cold-storage export. An empty Cron makes
// archive mode run once and exit.
type ArchiveConfig struct {
	RetentionDays     int    `toml:"retention_days"`
	Cron              string `toml:"cron"`
	DeleteAfterUpload bool   `toml:"delete_after_upload"`
	Verify            bool   `toml:"verify"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// decimalValue is a decimal.Decimal that decodes TOML strings, integers and
// floats without losing precision. Floats use their shortest exact form, so
// 1e-7 stays 0.0000001.
type decimalValue struct {
	decimal.Decimal
}

// UnmarshalTOML implements toml.Unmarshaler.
func (d *decimalValue) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return fmt.Errorf("invalid decimal %q: %w", x, err)
		}
		d.Decimal = parsed
	case int64:
		d.Decimal = decimal.NewFromInt(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("invalid decimal %v", x)
		}
		d.Decimal = decimal.NewFromFloat(x)
	default:
		return fmt.Errorf("invalid decimal of type %T", v)
	}
	return nil
}

// ServerConfig holds HTTP server parameters for monitor mode.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// MetricsConfig controls the Prometheus endpoint. In monitor mode metrics
// are served on the API server; otherwise on Addr.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			Source:            "ws",
			URL:               "wss://ws.gomarket-cpp.goquant.io/ws/l2-orderbook/okx/BTC-USDT-SWAP",
			Instrument:        "BTC-USDT-SWAP",
			ReconnectDelay:    duration{2 * time.Second},
			MaxReconnectDelay: duration{60 * time.Second},
			HandshakeTimeout:  duration{10 * time.Second},
		},
		Simulation: SimulationConfig{
			USDAmount:   decimalValue{decimal.NewFromInt(100)},
			DepthLevels: 5,
		},
		Impact: ImpactConfig{
			FeeRate:     decimalValue{decimal.RequireFromString("0.001")},
			Eta:         decimalValue{decimal.RequireFromString("0.1")},
			Epsilon:     decimalValue{decimal.RequireFromString("0.0001")},
			Volatility:  decimalValue{decimal.RequireFromString("0.02")},
			DailyVolume: decimalValue{decimal.NewFromInt(1_000_000_000)},
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 100_000,
			BookTTL:      duration{5 * time.Minute},
		},
		Postgres: PostgresConfig{
			Enabled:          false,
			Host:             "localhost",
			Port:             5432,
			Database:         "costsim",
			User:             "postgres",
			SSLMode:          "disable",
			PoolMaxConns:     10,
			PoolMinConns:     2,
			StatementTimeout: duration{30 * time.Second},
			RunMigrations:    true,
			BatchSize:        200,
			FlushInterval:    duration{time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "costsim-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			Cron:          "0 3 * * *",
			Verify:        true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9100",
		},
		Mode:     "simulate",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"simulate": true,
	"monitor":  true,
	"archive":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: simulate, monitor, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Feed and simulation only matter when ticks are processed.
	if mode != "archive" {
		switch c.Feed.Source {
		case "ws":
			if c.Feed.URL == "" {
				errs = append(errs, "feed: url must not be empty for source ws")
			}
		case "redis":
			if !c.Redis.Enabled {
				errs = append(errs, "feed: source redis requires redis.enabled")
			}
		default:
			errs = append(errs, fmt.Sprintf("feed: unknown source %q (valid: ws, redis)", c.Feed.Source))
		}
		if strings.TrimSpace(c.Feed.Instrument) == "" {
			errs = append(errs, "feed: instrument must not be empty")
		}
		if c.Feed.ReconnectDelay.Duration <= 0 {
			errs = append(errs, "feed: reconnect_delay must be > 0")
		}
		if c.Feed.MaxReconnectDelay.Duration < c.Feed.ReconnectDelay.Duration {
			errs = append(errs, "feed: max_reconnect_delay must be >= reconnect_delay")
		}

		if !c.Simulation.USDAmount.IsPositive() {
			errs = append(errs, fmt.Sprintf("simulation: usd_amount must be > 0, got %s", c.Simulation.USDAmount))
		}
		if c.Simulation.DepthLevels < 1 {
			errs = append(errs, "simulation: depth_levels must be >= 1")
		}

		if err := c.CostParams().Validate(); err != nil {
			errs = append(errs, "impact: "+err.Error())
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if mode == "archive" && !c.Postgres.Enabled {
		errs = append(errs, "archive: mode archive requires postgres.enabled")
	}
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
		if c.Postgres.BatchSize < 1 {
			errs = append(errs, "postgres: batch_size must be >= 1")
		}
	}

	if mode == "archive" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Cron != "" {
			if err := pipeline.ValidateCron(c.Archive.Cron); err != nil {
				errs = append(errs, fmt.Sprintf("archive: cron: %v", err))
			}
		}
	}

	if mode == "monitor" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

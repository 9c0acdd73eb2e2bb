package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// envPrefix namespaces every override variable.
const envPrefix = "COSTSIM_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COSTSIM_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides overwrites Config fields from COSTSIM_* variables that
// are set and non-empty. A value that does not parse is an error rather than
// silently ignored.
func applyEnvOverrides(cfg *Config) error {
	e := &envReader{}

	// ── Feed ──
	e.setStr(&cfg.Feed.Source, "FEED_SOURCE")
	e.setStr(&cfg.Feed.URL, "FEED_URL")
	e.setStr(&cfg.Feed.Instrument, "FEED_INSTRUMENT")
	e.setDuration(&cfg.Feed.ReconnectDelay, "FEED_RECONNECT_DELAY")
	e.setDuration(&cfg.Feed.MaxReconnectDelay, "FEED_MAX_RECONNECT_DELAY")

	// ── Simulation ──
	e.setDecimal(&cfg.Simulation.USDAmount, "SIMULATION_USD_AMOUNT")
	e.setInt(&cfg.Simulation.DepthLevels, "SIMULATION_DEPTH_LEVELS")
	e.setBool(&cfg.Simulation.AllowPartial, "SIMULATION_ALLOW_PARTIAL")

	// ── Impact ──
	e.setDecimal(&cfg.Impact.FeeRate, "IMPACT_FEE_RATE")
	e.setDecimal(&cfg.Impact.Eta, "IMPACT_ETA")
	e.setDecimal(&cfg.Impact.Epsilon, "IMPACT_EPSILON")
	e.setDecimal(&cfg.Impact.Volatility, "IMPACT_VOLATILITY")
	e.setDecimal(&cfg.Impact.DailyVolume, "IMPACT_DAILY_VOLUME")

	// ── Redis ──
	e.setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	e.setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	e.setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	e.setInt(&cfg.Redis.DB, "REDIS_DB")
	e.setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	e.setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	// ── Postgres ──
	e.setBool(&cfg.Postgres.Enabled, "POSTGRES_ENABLED")
	e.setStr(&cfg.Postgres.DSN, "POSTGRES_DSN")
	e.setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	e.setStr(&cfg.Postgres.Host, "POSTGRES_HOST")
	e.setInt(&cfg.Postgres.Port, "POSTGRES_PORT")
	e.setStr(&cfg.Postgres.Database, "POSTGRES_DATABASE")
	e.setStr(&cfg.Postgres.User, "POSTGRES_USER")
	e.setStr(&cfg.Postgres.Password, "POSTGRES_PASSWORD")
	e.setStr(&cfg.Postgres.SSLMode, "POSTGRES_SSL_MODE")
	e.setBool(&cfg.Postgres.RunMigrations, "POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	e.setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	e.setStr(&cfg.S3.Region, "S3_REGION")
	e.setStr(&cfg.S3.Bucket, "S3_BUCKET")
	e.setStr(&cfg.S3.Prefix, "S3_PREFIX")
	e.setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	e.setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	e.setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Archive ──
	e.setInt(&cfg.Archive.RetentionDays, "ARCHIVE_RETENTION_DAYS")
	e.setStr(&cfg.Archive.Cron, "ARCHIVE_CRON")
	e.setBool(&cfg.Archive.DeleteAfterUpload, "ARCHIVE_DELETE_AFTER_UPLOAD")

	// ── Server ──
	e.setInt(&cfg.Server.Port, "SERVER_PORT")
	e.setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	e.setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	e.setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")

	// ── Metrics ──
	e.setBool(&cfg.Metrics.Enabled, "METRICS_ENABLED")
	e.setStr(&cfg.Metrics.Addr, "METRICS_ADDR")

	// ── Top-level ──
	e.setStr(&cfg.Mode, "MODE")
	e.setStr(&cfg.LogLevel, "LOG_LEVEL")

	if len(e.errs) > 0 {
		return fmt.Errorf("config: invalid environment overrides:\n  - %s", strings.Join(e.errs, "\n  - "))
	}
	return nil
}

// envReader applies typed overrides and collects parse errors. Each setter
// only mutates the target when the variable is present and non-empty.
type envReader struct {
	errs []string
}

func (e *envReader) lookup(key string) (string, string, bool) {
	name := envPrefix + key
	v := strings.TrimSpace(os.Getenv(name))
	return name, v, v != ""
}

func (e *envReader) fail(name, v string, err error) {
	e.errs = append(e.errs, fmt.Sprintf("%s=%q: %v", name, v, err))
}

func (e *envReader) setStr(dst *string, key string) {
	if _, v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(dst *int, key string) {
	name, v, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = n
}

func (e *envReader) setBool(dst *bool, key string) {
	name, v, ok := e.lookup(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	*dst = b
}

func (e *envReader) setDecimal(dst *decimalValue, key string) {
	name, v, ok := e.lookup(key)
	if !ok {
		return
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	dst.Decimal = d
}

func (e *envReader) setDuration(dst *duration, key string) {
	name, v, ok := e.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, v, err)
		return
	}
	dst.Duration = d
}

func (e *envReader) setStringSlice(dst *[]string, key string) {
	_, v, ok := e.lookup(key)
	if !ok {
		return
	}
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}

var _ toml.Unmarshaler = (*decimalValue)(nil)

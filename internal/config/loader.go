package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SENTINEL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SENTINEL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SENTINEL_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SENTINEL_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SENTINEL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SENTINEL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SENTINEL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SENTINEL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SENTINEL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SENTINEL_POSTGRES_SSLMODE")
	setStr(&cfg.Postgres.SSLMode, "SENTINEL_POSTGRES_SSL_MODE") // compatibility alias
	setInt(&cfg.Postgres.PoolMaxConns, "SENTINEL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SENTINEL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SENTINEL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SENTINEL_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SENTINEL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SENTINEL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SENTINEL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SENTINEL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SENTINEL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SENTINEL_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SENTINEL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SENTINEL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SENTINEL_S3_REGION")
	setStr(&cfg.S3.Bucket, "SENTINEL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SENTINEL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SENTINEL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SENTINEL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SENTINEL_S3_FORCE_PATH_STYLE")

	// ── Eth ──
	setBool(&cfg.Eth.Enabled, "SENTINEL_ETH_ENABLED")
	setStr(&cfg.Eth.RPCURL, "SENTINEL_ETH_RPC_URL")
	setDuration(&cfg.Eth.GasInterval, "SENTINEL_ETH_GAS_INTERVAL")

	// ── Ledger ──
	setFloat64(&cfg.Ledger.MaxExposureUSD, "SENTINEL_LEDGER_MAX_EXPOSURE_USD")
	setDuration(&cfg.Ledger.InactivityTimeout, "SENTINEL_LEDGER_INACTIVITY_TIMEOUT")

	// ── Exposure ──
	setInt(&cfg.Exposure.HistorySize, "SENTINEL_EXPOSURE_HISTORY_SIZE")

	// ── Escalation ──
	setDuration(&cfg.Escalation.CriticalDelay, "SENTINEL_ESCALATION_CRITICAL_DELAY")
	setDuration(&cfg.Escalation.HighDelay, "SENTINEL_ESCALATION_HIGH_DELAY")
	setDuration(&cfg.Escalation.MediumDelay, "SENTINEL_ESCALATION_MEDIUM_DELAY")
	setDuration(&cfg.Escalation.LowDelay, "SENTINEL_ESCALATION_LOW_DELAY")
	setInt(&cfg.Escalation.BackoffFactor, "SENTINEL_ESCALATION_BACKOFF_FACTOR")
	setInt(&cfg.Escalation.MaxLevel, "SENTINEL_ESCALATION_MAX_LEVEL")

	// ── Notify ──
	setStr(&cfg.Notify.SlackWebhookURL, "SENTINEL_NOTIFY_SLACK_WEBHOOK_URL")
	setStr(&cfg.Notify.SlackChannel, "SENTINEL_NOTIFY_SLACK_CHANNEL")
	setStr(&cfg.Notify.EmailHost, "SENTINEL_NOTIFY_EMAIL_HOST")
	setInt(&cfg.Notify.EmailPort, "SENTINEL_NOTIFY_EMAIL_PORT")
	setStr(&cfg.Notify.EmailUsername, "SENTINEL_NOTIFY_EMAIL_USERNAME")
	setStr(&cfg.Notify.EmailPassword, "SENTINEL_NOTIFY_EMAIL_PASSWORD")
	setStr(&cfg.Notify.EmailFrom, "SENTINEL_NOTIFY_EMAIL_FROM")
	setStringSlice(&cfg.Notify.EmailTo, "SENTINEL_NOTIFY_EMAIL_TO")
	setInt(&cfg.Notify.MaxAttempts, "SENTINEL_NOTIFY_MAX_ATTEMPTS")
	setDuration(&cfg.Notify.RetryBackoff, "SENTINEL_NOTIFY_RETRY_BACKOFF")

	// ── Pipeline ──
	setDuration(&cfg.Pipeline.EscalationInterval, "SENTINEL_PIPELINE_ESCALATION_INTERVAL")
	setDuration(&cfg.Pipeline.RetryInterval, "SENTINEL_PIPELINE_RETRY_INTERVAL")
	setDuration(&cfg.Pipeline.MaintenanceInterval, "SENTINEL_PIPELINE_MAINTENANCE_INTERVAL")
	setDuration(&cfg.Pipeline.ResolvedRetention, "SENTINEL_PIPELINE_RESOLVED_RETENTION")
	setInt(&cfg.Pipeline.ArchiveRetentionDays, "SENTINEL_PIPELINE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Pipeline.ArchiveCron, "SENTINEL_PIPELINE_ARCHIVE_CRON")
	setInt(&cfg.Pipeline.TradeBatchSize, "SENTINEL_PIPELINE_TRADE_BATCH_SIZE")
	setDuration(&cfg.Pipeline.TradePollInterval, "SENTINEL_PIPELINE_TRADE_POLL_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SENTINEL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SENTINEL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SENTINEL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SENTINEL_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SENTINEL_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SENTINEL_SERVER_RATE_WINDOW")

	// ── Top-level ──
	setStr(&cfg.Mode, "SENTINEL_MODE")
	setStr(&cfg.LogLevel, "SENTINEL_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// Package config defines the top-level configuration for the risk monitor
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SENTINEL_* environment
// variables.
type Config struct {
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Eth        EthConfig        `toml:"eth"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Exposure   ExposureConfig   `toml:"exposure"`
	Escalation EscalationConfig `toml:"escalation"`
	Notify     NotifyConfig     `toml:"notify"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Server     ServerConfig     `toml:"server"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters. When Enabled is
// false the monitor runs with in-memory state only.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When Enabled is false the
// in-process bus and a static price table stand in.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for cold-storage
// archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EthConfig holds the Ethereum RPC endpoint for the gas price watcher.
type EthConfig struct {
	Enabled     bool     `toml:"enabled"`
	RPCURL      string   `toml:"rpc_url"`
	GasInterval duration `toml:"gas_interval"`
}

// LedgerConfig holds position ledger parameters.
type LedgerConfig struct {
	MaxExposureUSD    float64  `toml:"max_exposure_usd"`
	InactivityTimeout duration `toml:"inactivity_timeout"`
}

// ExposureConfig holds exposure snapshot parameters.
type ExposureConfig struct {
	HistorySize int `toml:"history_size"`
}

// EscalationConfig holds escalation timing parameters.
type EscalationConfig struct {
	CriticalDelay duration `toml:"critical_delay"`
	HighDelay     duration `toml:"high_delay"`
	MediumDelay   duration `toml:"medium_delay"`
	LowDelay      duration `toml:"low_delay"`
	BackoffFactor int      `toml:"backoff_factor"`
	MaxLevel      int      `toml:"max_level"`
}

// NotifyConfig holds notification channel credentials and recipients.
type NotifyConfig struct {
	SlackWebhookURL string   `toml:"slack_webhook_url"`
	SlackChannel    string   `toml:"slack_channel"`
	EmailHost       string   `toml:"email_host"`
	EmailPort       int      `toml:"email_port"`
	EmailUsername   string   `toml:"email_username"`
	EmailPassword   string   `toml:"email_password"`
	EmailFrom       string   `toml:"email_from"`
	EmailTo         []string `toml:"email_to"`
	MaxAttempts     int      `toml:"max_attempts"`
	RetryBackoff    duration `toml:"retry_backoff"`
}

// PipelineConfig holds background loop cadences and archival parameters.
type PipelineConfig struct {
	EscalationInterval   duration `toml:"escalation_interval"`
	RetryInterval        duration `toml:"retry_interval"`
	MaintenanceInterval  duration `toml:"maintenance_interval"`
	ResolvedRetention    duration `toml:"resolved_retention"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveCron          string   `toml:"archive_cron"`
	TradeBatchSize       int      `toml:"trade_batch_size"`
	TradePollInterval    duration `toml:"trade_poll_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "sentinel",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "sentinel-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Eth: EthConfig{
			Enabled:     false,
			RPCURL:      "http://localhost:8545",
			GasInterval: duration{30 * time.Second},
		},
		Ledger: LedgerConfig{
			MaxExposureUSD:    0, // disabled
			InactivityTimeout: duration{24 * time.Hour},
		},
		Exposure: ExposureConfig{
			HistorySize: 1000,
		},
		Escalation: EscalationConfig{
			CriticalDelay: duration{5 * time.Minute},
			HighDelay:     duration{15 * time.Minute},
			MediumDelay:   duration{30 * time.Minute},
			LowDelay:      duration{time.Hour},
			BackoffFactor: 2,
			MaxLevel:      0, // unbounded
		},
		Notify: NotifyConfig{
			MaxAttempts:  3,
			RetryBackoff: duration{30 * time.Second},
		},
		Pipeline: PipelineConfig{
			EscalationInterval:   duration{15 * time.Second},
			RetryInterval:        duration{10 * time.Second},
			MaintenanceInterval:  duration{10 * time.Minute},
			ResolvedRetention:    duration{time.Hour},
			ArchiveRetentionDays: 90,
			ArchiveCron:          "0 3 * * *",
			TradeBatchSize:       100,
			TradePollInterval:    duration{250 * time.Millisecond},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Second},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, server, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archival requires postgres to be enabled")
		}
	}

	// Eth
	if c.Eth.Enabled && c.Eth.RPCURL == "" {
		errs = append(errs, "eth: rpc_url must not be empty when enabled")
	}

	// Ledger
	if c.Ledger.MaxExposureUSD < 0 {
		errs = append(errs, "ledger: max_exposure_usd must be >= 0 (0 disables the check)")
	}

	// Exposure
	if c.Exposure.HistorySize < 1 {
		errs = append(errs, "exposure: history_size must be >= 1")
	}

	// Escalation
	if c.Escalation.BackoffFactor < 1 {
		errs = append(errs, "escalation: backoff_factor must be >= 1")
	}
	if c.Escalation.MaxLevel < 0 {
		errs = append(errs, "escalation: max_level must be >= 0 (0 means unbounded)")
	}

	// Notify
	if c.Notify.MaxAttempts < 1 {
		errs = append(errs, "notify: max_attempts must be >= 1")
	}
	if c.Notify.EmailHost != "" && c.Notify.EmailFrom == "" {
		errs = append(errs, "notify: email_from is required when email_host is set")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0 (0 disables rate limiting)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Package config defines the top-level configuration for wisdomd and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WISDOM_* environment variables.
type Config struct {
	Postgres Postgres `toml:"postgres"`
	Redis    Redis    `toml:"redis"`
	S3       S3       `toml:"s3"`
	Chain    Chain    `toml:"chain"`
	Batch    Batch    `toml:"batch"`
	Auth     Auth     `toml:"auth"`
	Server   Server   `toml:"server"`
	Tools    Tools    `toml:"tools"`
	Archive  Archive  `toml:"archive"`
	Notify   Notify   `toml:"notify"`
	Mode     string   `toml:"mode"`
	LogLevel string   `toml:"log_level"`
}

// Postgres holds PostgreSQL connection parameters.
type Postgres struct {
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

// Redis holds Redis connection parameters.
type Redis struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3 holds S3-compatible object storage parameters for the archive sink.
type S3 struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// Chain holds blockchain RPC and signing-key parameters.
type Chain struct {
	RPCURL           string `toml:"rpc_url"`
	ChainID          int64  `toml:"chain_id"`
	ContractAddress  string `toml:"contract_address"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// Enabled gates real RPC calls; when false the service runs with the
	// chain client stubbed out and batch submissions are skipped.
	Enabled bool `toml:"enabled"`
}

// Batch holds batch submission and reconciliation parameters.
type Batch struct {
	Interval       duration `toml:"interval"`
	SyncInterval   duration `toml:"sync_interval"`
	MaxPerMarket   int      `toml:"max_per_market"`
	LockTTL        duration `toml:"lock_ttl"`
	MinPending     int      `toml:"min_pending"`
	SubmitTimeout  duration `toml:"submit_timeout"`
	ReconcileAfter duration `toml:"reconcile_after"`
}

// Auth holds token-signing and role-bootstrap parameters.
type Auth struct {
	TokenSecret string   `toml:"token_secret"`
	TokenTTL    duration `toml:"token_ttl"`
	// AdminUsers seeds the role policy: these user ids are admins even
	// before any row exists in user_roles.
	AdminUsers []string `toml:"admin_users"`
}

// Server holds HTTP server parameters.
type Server struct {
	Enabled      bool     `toml:"enabled"`
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
	ReadTimeout  duration `toml:"read_timeout"`
	WriteTimeout duration `toml:"write_timeout"`
	WebSocket    bool     `toml:"websocket"`
}

// Tools holds tool-server parameters.
type Tools struct {
	Enabled      bool     `toml:"enabled"`
	Port         int      `toml:"port"`
	PollInterval duration `toml:"poll_interval"`
}

// Archive holds cold-storage archival parameters.
type Archive struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// Notify holds notification channel credentials.
type Notify struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
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
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: Postgres{
			Host:          "localhost",
			Port:          5432,
			Database:      "wisdom",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: Redis{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wisdom-archive",
			ForcePathStyle: true,
		},
		Chain: Chain{
			RPCURL:  "http://localhost:8545",
			ChainID: 8453,
			Enabled: false,
		},
		Batch: Batch{
			Interval:       duration{5 * time.Minute},
			SyncInterval:   duration{10 * time.Minute},
			MaxPerMarket:   100,
			LockTTL:        duration{2 * time.Minute},
			MinPending:     1,
			SubmitTimeout:  duration{90 * time.Second},
			ReconcileAfter: duration{15 * time.Minute},
		},
		Auth: Auth{
			TokenTTL: duration{24 * time.Hour},
		},
		Server: Server{
			Enabled:      true,
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:    120,
			RateWindow:   duration{time.Minute},
			ReadTimeout:  duration{15 * time.Second},
			WriteTimeout: duration{30 * time.Second},
			WebSocket:    true,
		},
		Tools: Tools{
			Enabled:      true,
			Port:         8010,
			PollInterval: duration{10 * time.Second},
		},
		Archive: Archive{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Notify: Notify{
			Events: []string{"batch_failed", "market_resolved", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"batch":  true,
	"sync":   true,
	"full":   true,
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

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, batch, sync, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
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

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only required when archival is on.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
	}

	// Chain — signing credentials are required once real submission is on.
	if c.Chain.Enabled {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty when chain is enabled")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, fmt.Sprintf("chain: chain_id must be positive, got %d", c.Chain.ChainID))
		}
		if c.Chain.ContractAddress == "" {
			errs = append(errs, "chain: contract_address must not be empty when chain is enabled")
		}
		if c.Chain.PrivateKey == "" && c.Chain.EncryptedKeyPath == "" {
			errs = append(errs, "chain: either private_key or encrypted_key_path must be set when chain is enabled")
		}
		if c.Chain.EncryptedKeyPath != "" && c.Chain.KeyPassword == "" {
			errs = append(errs, "chain: key_password is required when encrypted_key_path is set")
		}
	}

	// Batch
	if c.Batch.Interval.Duration <= 0 {
		errs = append(errs, "batch: interval must be > 0")
	}
	if c.Batch.MaxPerMarket < 1 {
		errs = append(errs, "batch: max_per_market must be >= 1")
	}
	if c.Batch.LockTTL.Duration <= 0 {
		errs = append(errs, "batch: lock_ttl must be > 0")
	}

	// Auth
	if c.Auth.TokenSecret == "" {
		errs = append(errs, "auth: token_secret must not be empty")
	}
	if c.Auth.TokenTTL.Duration <= 0 {
		errs = append(errs, "auth: token_ttl must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 1 {
			errs = append(errs, "server: rate_limit must be >= 1")
		}
		if c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0")
		}
	}

	// Tools
	if c.Tools.Enabled {
		if c.Tools.Port <= 0 || c.Tools.Port > 65535 {
			errs = append(errs, fmt.Sprintf("tools: port must be 1-65535, got %d", c.Tools.Port))
		}
		if c.Tools.Port == c.Server.Port && c.Server.Enabled {
			errs = append(errs, "tools: port must differ from server.port")
		}
		if c.Tools.PollInterval.Duration <= 0 {
			errs = append(errs, "tools: poll_interval must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

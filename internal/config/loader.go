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
// built-in defaults, applies WISDOM_* environment variable overrides, and
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

// applyEnvOverrides reads well-known WISDOM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "WISDOM_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "WISDOM_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "WISDOM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "WISDOM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "WISDOM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "WISDOM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "WISDOM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "WISDOM_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "WISDOM_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "WISDOM_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "WISDOM_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "WISDOM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "WISDOM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "WISDOM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "WISDOM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "WISDOM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "WISDOM_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "WISDOM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "WISDOM_S3_REGION")
	setStr(&cfg.S3.Bucket, "WISDOM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "WISDOM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "WISDOM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "WISDOM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "WISDOM_S3_FORCE_PATH_STYLE")

	// ── Chain ──
	setBool(&cfg.Chain.Enabled, "WISDOM_CHAIN_ENABLED")
	setStr(&cfg.Chain.RPCURL, "WISDOM_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "WISDOM_CHAIN_ID")
	setStr(&cfg.Chain.ContractAddress, "WISDOM_CHAIN_CONTRACT_ADDRESS")
	setStr(&cfg.Chain.PrivateKey, "WISDOM_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "WISDOM_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "WISDOM_CHAIN_KEY_PASSWORD")

	// ── Batch ──
	setDuration(&cfg.Batch.Interval, "WISDOM_BATCH_INTERVAL")
	setDuration(&cfg.Batch.SyncInterval, "WISDOM_BATCH_SYNC_INTERVAL")
	setInt(&cfg.Batch.MaxPerMarket, "WISDOM_BATCH_MAX_PER_MARKET")
	setDuration(&cfg.Batch.LockTTL, "WISDOM_BATCH_LOCK_TTL")
	setInt(&cfg.Batch.MinPending, "WISDOM_BATCH_MIN_PENDING")
	setDuration(&cfg.Batch.SubmitTimeout, "WISDOM_BATCH_SUBMIT_TIMEOUT")
	setDuration(&cfg.Batch.ReconcileAfter, "WISDOM_BATCH_RECONCILE_AFTER")

	// ── Auth ──
	setStr(&cfg.Auth.TokenSecret, "WISDOM_AUTH_TOKEN_SECRET")
	setDuration(&cfg.Auth.TokenTTL, "WISDOM_AUTH_TOKEN_TTL")
	setStringSlice(&cfg.Auth.AdminUsers, "WISDOM_AUTH_ADMIN_USERS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "WISDOM_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "WISDOM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "WISDOM_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "WISDOM_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "WISDOM_SERVER_RATE_WINDOW")
	setBool(&cfg.Server.WebSocket, "WISDOM_SERVER_WEBSOCKET")

	// ── Tools ──
	setBool(&cfg.Tools.Enabled, "WISDOM_TOOLS_ENABLED")
	setInt(&cfg.Tools.Port, "WISDOM_TOOLS_PORT")
	setDuration(&cfg.Tools.PollInterval, "WISDOM_TOOLS_POLL_INTERVAL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "WISDOM_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "WISDOM_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "WISDOM_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "WISDOM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "WISDOM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "WISDOM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "WISDOM_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "WISDOM_MODE")
	setStr(&cfg.LogLevel, "WISDOM_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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

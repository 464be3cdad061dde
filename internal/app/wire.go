package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opwisdom/wisdomd/internal/auth"
	s3blob "github.com/opwisdom/wisdomd/internal/blob/s3"
	"github.com/opwisdom/wisdomd/internal/cache/redis"
	"github.com/opwisdom/wisdomd/internal/chain"
	"github.com/opwisdom/wisdomd/internal/config"
	"github.com/opwisdom/wisdomd/internal/domain"
	"github.com/opwisdom/wisdomd/internal/notify"
	"github.com/opwisdom/wisdomd/internal/service"
	"github.com/opwisdom/wisdomd/internal/store/postgres"
)

// Dependencies bundles every dependency the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore     domain.MarketStore
	PredictionStore domain.PredictionStore
	CustodyStore    domain.CustodyStore
	BalanceStore    domain.BalanceStore
	StatsStore      domain.StatsStore
	EntityStore     domain.EntityStore
	AuditStore      domain.AuditStore
	BugReportStore  domain.BugReportStore
	RoleStore       domain.RolePolicy

	// Caches
	MarketCache      domain.MarketCache
	LeaderboardCache domain.LeaderboardCache
	RateLimiter      domain.RateLimiter
	LockManager      domain.LockManager
	SignalBus        domain.SignalBus

	// Blob storage
	Archiver domain.Archiver

	// Chain
	Chain domain.ChainClient

	// Auth
	Tokens *auth.TokenIssuer
	Policy *auth.Policy

	// Services
	Markets     *service.MarketService
	Predictions *service.PredictionService
	Custody     *service.CustodyService
	Balances    *service.BalanceService
	Leaderboard *service.LeaderboardService
	BugReports  *service.BugReportService

	// Notifications
	Notifier *notify.Notifier

	// Connectivity handles for health checks.
	PG    *postgres.Client
	Redis *redis.Client
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.PG = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.PredictionStore = postgres.NewPredictionStore(pool)
	deps.CustodyStore = postgres.NewCustodyStore(pool)
	deps.BalanceStore = postgres.NewBalanceStore(pool)
	deps.StatsStore = postgres.NewStatsStore(pool)
	deps.EntityStore = postgres.NewEntityStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.BugReportStore = postgres.NewBugReportStore(pool)
	roleStore := postgres.NewRoleStore(pool)
	deps.RoleStore = roleStore

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Redis = redisClient

	deps.MarketCache = redis.NewMarketCache(redisClient)
	deps.LeaderboardCache = redis.NewLeaderboardCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 archive sink ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		writer := s3blob.NewWriter(s3Client)
		txStore := postgres.NewCustodyStore(pool)
		mkStore := postgres.NewMarketStore(pool)
		deps.Archiver = s3blob.NewArchiver(writer, txStore, mkStore, deps.AuditStore)
	}

	// --- Chain client ---
	var verify service.SignatureVerifier
	if cfg.Chain.Enabled {
		key, err := chain.LoadKey(chain.KeyConfig{
			RawPrivateKey:    cfg.Chain.PrivateKey,
			EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
			KeyPassword:      cfg.Chain.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain key: %w", err)
		}
		chainClient, err := chain.New(ctx, chain.Config{
			RPCURL:          cfg.Chain.RPCURL,
			ChainID:         cfg.Chain.ChainID,
			ContractAddress: cfg.Chain.ContractAddress,
			Key:             key,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain: %w", err)
		}
		closers = append(closers, chainClient.Close)
		deps.Chain = chainClient
		verify = chain.VerifyPersonalSignature
	} else {
		deps.Chain = chain.Nop{}
		// Without a chain there is no wallet ceremony; signatures pass.
		verify = nil
	}

	// --- Auth ---
	deps.Tokens = auth.NewTokenIssuer(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL.Duration)
	deps.Policy = auth.NewPolicy(roleStore, cfg.Auth.AdminUsers)

	// --- Services ---
	deps.Markets = service.NewMarketService(
		deps.MarketStore,
		deps.PredictionStore,
		deps.CustodyStore,
		deps.BalanceStore,
		deps.StatsStore,
		deps.MarketCache,
		deps.LeaderboardCache,
		deps.SignalBus,
		deps.AuditStore,
		logger,
	)
	deps.Custody = service.NewCustodyService(
		deps.CustodyStore,
		deps.Markets,
		deps.PredictionStore,
		deps.BalanceStore,
		deps.LockManager,
		deps.SignalBus,
		deps.AuditStore,
		verify,
		logger,
	)
	deps.Predictions = service.NewPredictionService(
		deps.PredictionStore,
		deps.CustodyStore,
		deps.BalanceStore,
		logger,
	)
	deps.Balances = service.NewBalanceService(deps.BalanceStore, logger)
	deps.Leaderboard = service.NewLeaderboardService(deps.StatsStore, deps.LeaderboardCache, logger)
	deps.BugReports = service.NewBugReportService(deps.BugReportStore, deps.SignalBus, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opwisdom/wisdomd/internal/batch"
	"github.com/opwisdom/wisdomd/internal/chain"
	"github.com/opwisdom/wisdomd/internal/notify"
	"github.com/opwisdom/wisdomd/internal/server"
	"github.com/opwisdom/wisdomd/internal/server/handler"
	"github.com/opwisdom/wisdomd/internal/server/ws"
	"github.com/opwisdom/wisdomd/internal/toolserver"
)

// ServerMode runs the public HTTP API, the WebSocket hub, and the tool
// server. Batch submission and reconciliation are expected to run in a
// separate batch/sync process.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServers(ctx, g, deps)
	a.startAlertWatcher(ctx, g, deps)
	return g.Wait()
}

// BatchMode runs only the batch processor loop that submits pending
// predictions to the chain.
func (a *App) BatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering batch mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startBatchProcessor(ctx, g, deps)
	a.startAlertWatcher(ctx, g, deps)
	return g.Wait()
}

// SyncMode runs only the reconciler: pending-claim verification against the
// chain and on-chain market resolution sync.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering sync mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startReconciler(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything in one process: API, tool server, batch
// processor, reconciler, archive loop, and notifications.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "entering full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServers(ctx, g, deps)
	a.startBatchProcessor(ctx, g, deps)
	a.startReconciler(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)
	a.startAlertWatcher(ctx, g, deps)
	return g.Wait()
}

// startServers adds the HTTP API (with optional WebSocket hub) and the tool
// server to the errgroup, honoring the per-surface enable flags.
func (a *App) startServers(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	cfg := a.cfg

	var hub *ws.Hub
	if cfg.Server.Enabled && cfg.Server.WebSocket {
		hub = ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	if cfg.Server.Enabled {
		srv := server.NewServer(
			server.Config{
				Port:         cfg.Server.Port,
				CORSOrigins:  cfg.Server.CORSOrigins,
				RateLimit:    cfg.Server.RateLimit,
				RateWindow:   cfg.Server.RateWindow.Duration,
				ReadTimeout:  cfg.Server.ReadTimeout.Duration,
				WriteTimeout: cfg.Server.WriteTimeout.Duration,
			},
			a.buildHandlers(deps),
			hub,
			deps.RateLimiter,
			deps.Tokens,
			deps.Policy,
			a.logger,
		)
		g.Go(func() error {
			return srv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Tools.Enabled {
		svcs := toolserver.Services{
			Markets:     deps.Markets,
			Predictions: deps.Predictions,
			Custody:     deps.Custody,
			Leaderboard: deps.Leaderboard,
			BugReports:  deps.BugReports,
		}
		registry := toolserver.BuildRegistry(svcs)
		resolver := toolserver.NewResolver(svcs, deps.BugReportStore)
		tools := toolserver.NewServer(
			cfg.Tools.Port,
			registry,
			resolver,
			deps.Tokens,
			deps.Policy,
			a.logger,
		)
		g.Go(func() error {
			return tools.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return tools.Shutdown(shutdownCtx)
		})

		poller := toolserver.NewPoller(
			deps.MarketStore,
			deps.SignalBus,
			cfg.Tools.PollInterval.Duration,
			a.logger,
		)
		g.Go(func() error {
			return poller.Run(ctx)
		})
	}
}

// buildHandlers constructs the REST handler set from the wired services.
func (a *App) buildHandlers(deps *Dependencies) server.Handlers {
	var walletVerify handler.WalletVerifier
	if a.cfg.Chain.Enabled {
		walletVerify = chain.VerifyPersonalSignature
	}

	batchRunner := a.newBatchProcessor(deps)
	reconciler := a.newReconciler(deps)

	return server.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": deps.PG,
			"redis":    deps.Redis,
		}, a.logger),
		Auth:        handler.NewAuthHandler(deps.Tokens, walletVerify, a.logger),
		Markets:     handler.NewMarketHandler(deps.Markets, deps.Predictions, a.logger),
		Custody:     handler.NewCustodyHandler(deps.Custody, a.logger),
		Portfolio:   handler.NewPortfolioHandler(deps.Predictions, deps.Balances, a.logger),
		Leaderboard: handler.NewLeaderboardHandler(deps.Leaderboard, a.logger),
		BugReports:  handler.NewBugReportHandler(deps.BugReports, a.logger),
		Admin: handler.NewAdminHandler(
			deps.Markets,
			deps.Policy,
			batchRunner,
			reconciler,
			deps.Archiver,
			deps.AuditStore,
			deps.BugReports,
			deps.CustodyStore,
			a.logger,
		),
	}
}

func (a *App) newBatchProcessor(deps *Dependencies) *batch.Processor {
	return batch.NewProcessor(
		deps.CustodyStore,
		deps.Chain,
		deps.LockManager,
		deps.SignalBus,
		deps.AuditStore,
		a.batchConfig(),
		a.logger,
	)
}

func (a *App) newReconciler(deps *Dependencies) *batch.Reconciler {
	return batch.NewReconciler(
		deps.CustodyStore,
		deps.PredictionStore,
		deps.MarketStore,
		deps.Markets,
		deps.EntityStore,
		deps.Chain,
		deps.AuditStore,
		a.batchConfig(),
		a.logger,
	)
}

func (a *App) batchConfig() batch.Config {
	return batch.Config{
		Interval:       a.cfg.Batch.Interval.Duration,
		MaxPerMarket:   a.cfg.Batch.MaxPerMarket,
		LockTTL:        a.cfg.Batch.LockTTL.Duration,
		MinPending:     a.cfg.Batch.MinPending,
		SubmitTimeout:  a.cfg.Batch.SubmitTimeout.Duration,
		ReconcileAfter: a.cfg.Batch.ReconcileAfter.Duration,
	}
}

func (a *App) startBatchProcessor(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	p := a.newBatchProcessor(deps)
	g.Go(func() error {
		return p.Run(ctx)
	})
}

func (a *App) startReconciler(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	r := a.newReconciler(deps)
	interval := a.cfg.Batch.SyncInterval.Duration
	g.Go(func() error {
		return r.Run(ctx, interval)
	})
}

// startArchiveLoop periodically exports settled custody transactions and
// closed markets past the retention window to cold storage.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Archive.Enabled || deps.Archiver == nil {
		return
	}

	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := a.cfg.Archive.RetentionDays
	if retention <= 0 {
		retention = 90
	}

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				cutoff := time.Now().UTC().AddDate(0, 0, -retention)
				txs, err := deps.Archiver.ArchiveTransactions(ctx, cutoff)
				if err != nil {
					a.logger.ErrorContext(ctx, "archive transactions failed",
						slog.String("error", err.Error()),
					)
					continue
				}
				markets, err := deps.Archiver.ArchiveMarkets(ctx, cutoff)
				if err != nil {
					a.logger.ErrorContext(ctx, "archive markets failed",
						slog.String("error", err.Error()),
					)
					continue
				}
				if txs > 0 || markets > 0 {
					a.logger.InfoContext(ctx, "archive pass complete",
						slog.Int64("transactions", txs),
						slog.Int64("markets", markets),
					)
				}
			}
		}
	})
}

// startAlertWatcher forwards operator-relevant bus events to the configured
// notification channels. It is a no-op without any configured sender.
func (a *App) startAlertWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier == nil {
		return
	}
	watcher := notify.NewAlertWatcher(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		return watcher.Run(ctx)
	})
}

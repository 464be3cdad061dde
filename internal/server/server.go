// Package server assembles the HTTP API: route registration, middleware
// chain, and graceful lifecycle for the REST and WebSocket surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opwisdom/wisdomd/internal/domain"
	"github.com/opwisdom/wisdomd/internal/server/handler"
	"github.com/opwisdom/wisdomd/internal/server/middleware"
	"github.com/opwisdom/wisdomd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	RateLimit    int
	RateWindow   time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Auth        *handler.AuthHandler
	Markets     *handler.MarketHandler
	Custody     *handler.CustodyHandler
	Portfolio   *handler.PortfolioHandler
	Leaderboard *handler.LeaderboardHandler
	BugReports  *handler.BugReportHandler
	Admin       *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux
// and the middleware chain (CORS, rate limiting, logging, auth) wired around
// it. limiter may be nil to disable rate limiting; wsHub may be nil to
// disable the WebSocket endpoint.
func NewServer(
	cfg Config,
	handlers Handlers,
	wsHub *ws.Hub,
	limiter domain.RateLimiter,
	tokens middleware.TokenVerifier,
	ident middleware.Identifier,
	logger *slog.Logger,
) *Server {
	mux := http.NewServeMux()

	// Public surface: health, login, market browsing, leaderboards.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("POST /api/auth/login", handlers.Auth.Login)

	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/odds", handlers.Markets.GetOdds)
	mux.HandleFunc("GET /api/markets/{id}/related", handlers.Markets.GetRelated)
	mux.HandleFunc("GET /api/markets/{id}/predictions", handlers.Markets.ListPredictions)

	mux.HandleFunc("GET /api/leaderboard/{board}", handlers.Leaderboard.GetBoard)
	mux.HandleFunc("GET /api/users/{user}/stats", handlers.Leaderboard.GetUserStats)

	// Authenticated surface: predictions, custody transactions, portfolio.
	authed := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAuth(h)
	}
	mux.Handle("POST /api/predictions", authed(handlers.Custody.CreatePrediction))
	mux.Handle("GET /api/predictions/{id}", authed(handlers.Portfolio.GetPrediction))
	mux.Handle("POST /api/predictions/{id}/claim", authed(handlers.Custody.ClaimReward))
	mux.Handle("GET /api/predictions/{id}/can-claim", authed(handlers.Custody.CanClaim))
	mux.Handle("GET /api/receipts/{id}", authed(handlers.Portfolio.GetReceipt))

	mux.Handle("GET /api/transactions", authed(handlers.Custody.ListTransactions))
	mux.Handle("GET /api/transactions/{id}", authed(handlers.Custody.GetTransaction))
	mux.Handle("POST /api/transactions/{id}/return", authed(handlers.Custody.ReturnPrediction))
	mux.Handle("POST /api/transactions/returnable", authed(handlers.Custody.CheckReturnable))
	mux.Handle("PATCH /api/transactions/{id}/status", authed(handlers.Custody.UpdateStatus))

	mux.Handle("GET /api/users/{user}/transactions", authed(handlers.Custody.ListUserTransactions))
	mux.Handle("GET /api/users/{user}/portfolio", authed(handlers.Portfolio.GetPortfolio))
	mux.Handle("GET /api/users/{user}/balance", authed(handlers.Portfolio.GetBalance))

	mux.Handle("POST /api/bugreports", authed(handlers.BugReports.File))

	// Admin surface.
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAdmin(h)
	}
	mux.Handle("POST /api/admin/markets", admin(handlers.Admin.CreateMarket))
	mux.Handle("PATCH /api/admin/markets/{id}", admin(handlers.Admin.UpdateMarket))
	mux.Handle("DELETE /api/admin/markets/{id}", admin(handlers.Admin.DeleteMarket))
	mux.Handle("POST /api/admin/markets/{id}/resolve", admin(handlers.Admin.ResolveMarket))
	mux.Handle("POST /api/admin/set-admin", admin(handlers.Admin.SetAdmin))
	mux.Handle("GET /api/admin/custody/{id}", admin(handlers.Admin.GetCustody))
	mux.Handle("POST /api/admin/custody/{id}/status", admin(handlers.Admin.SetCustodyStatus))
	mux.Handle("GET /api/admin/pending", admin(handlers.Admin.PendingCount))
	mux.Handle("POST /api/admin/batch/trigger", admin(handlers.Admin.TriggerBatch))
	mux.Handle("POST /api/admin/sync", admin(handlers.Admin.TriggerSync))
	mux.Handle("POST /api/admin/archive", admin(handlers.Admin.TriggerArchive))
	mux.Handle("GET /api/admin/audit", admin(handlers.Admin.ListAudit))
	mux.Handle("GET /api/admin/bugreports", admin(handlers.Admin.ListBugReports))
	mux.Handle("PATCH /api/admin/bugreports/{id}", admin(handlers.Admin.UpdateBugReport))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Middleware chain, outermost first: CORS, rate limiting, request
	// logging, identity resolution. RequireAuth/RequireAdmin per-route
	// guards rely on the identity attached here.
	var h http.Handler = mux
	h = middleware.Auth(tokens, ident)(h)
	h = middleware.Logging(logger)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.CORS(cfg.CORSOrigins)(h)

	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server is
// shut down or fails.
func (s *Server) Start() error {
	s.logger.Info("server: listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// complete up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

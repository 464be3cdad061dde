package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opwisdom/wisdomd/internal/domain"
	"github.com/opwisdom/wisdomd/internal/server/middleware"
)

// Server is the tool server's HTTP surface. It runs on its own port,
// separate from the REST API, and carries the same bearer-token auth.
type Server struct {
	httpServer *http.Server
	registry   *Registry
	resolver   *Resolver
	logger     *slog.Logger
}

// NewServer creates the tool server listening on port.
func NewServer(
	port int,
	registry *Registry,
	resolver *Resolver,
	tokens middleware.TokenVerifier,
	ident middleware.Identifier,
	logger *slog.Logger,
) *Server {
	s := &Server{
		registry: registry,
		resolver: resolver,
		logger:   logger.With(slog.String("component", "toolserver")),
	}

	mux := http.NewServeMux()
	mux.Handle("GET /api/tools/list", middleware.RequireAuth(http.HandlerFunc(s.handleList)))
	mux.Handle("POST /api/tools/call", middleware.RequireAuth(http.HandlerFunc(s.handleCall)))
	mux.Handle("GET /api/tools/resource", middleware.RequireAuth(http.HandlerFunc(s.handleResource)))

	var h http.Handler = mux
	h = middleware.Auth(tokens, ident)(h)
	h = middleware.Logging(logger)(h)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving tool calls. It blocks until shutdown or failure.
func (s *Server) Start() error {
	s.logger.Info("toolserver: listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("toolserver: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("toolserver: shutdown: %w", err)
	}
	return nil
}

// handleList returns the tool catalog.
// GET /api/tools/list
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.reply(w, http.StatusOK, map[string]any{"tools": s.registry.List()})
}

type callRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type callResponse struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleCall executes one tool by name.
// POST /api/tools/call
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		s.reply(w, http.StatusBadRequest, callResponse{Error: "expected {name, arguments}"})
		return
	}

	id, _ := middleware.IdentityFrom(r.Context())
	result, err := s.registry.Call(r.Context(), id, req.Name, req.Arguments)
	if err != nil {
		s.logger.WarnContext(r.Context(), "tool call failed",
			slog.String("tool", req.Name),
			slog.String("error", err.Error()),
		)
		s.reply(w, statusFor(err), callResponse{Error: publicError(err)})
		return
	}
	s.reply(w, http.StatusOK, callResponse{Result: result})
}

// handleResource resolves a resource URI.
// GET /api/tools/resource?uri=market://{id}
func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		s.reply(w, http.StatusBadRequest, callResponse{Error: "missing uri parameter"})
		return
	}

	id, _ := middleware.IdentityFrom(r.Context())
	res, err := s.resolver.Resolve(r.Context(), id, uri)
	if err != nil {
		s.reply(w, statusFor(err), callResponse{Error: publicError(err)})
		return
	}
	s.reply(w, http.StatusOK, res)
}

func (s *Server) reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("toolserver: encode response", slog.String("error", err.Error()))
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrMissingNonce):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrMarketEnded),
		errors.Is(err, domain.ErrMarketNotActive),
		errors.Is(err, domain.ErrOutcomeNotFound),
		errors.Is(err, domain.ErrNotWinning),
		errors.Is(err, domain.ErrNotPending),
		errors.Is(err, domain.ErrReturnWindowExpired),
		errors.Is(err, domain.ErrAlreadyClaimed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// publicError hides internal detail on unexpected failures while keeping
// domain errors verbatim, since those are the caller's feedback.
func publicError(err error) string {
	if statusFor(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

// ABOUTME: Gateway orchestrator wiring the store, agent runner and HTTP server
// ABOUTME: Manages component construction, startup and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/uptotrial/chat-gateway/internal/agent"
	"github.com/uptotrial/chat-gateway/internal/auth"
	"github.com/uptotrial/chat-gateway/internal/chat"
	"github.com/uptotrial/chat-gateway/internal/config"
	"github.com/uptotrial/chat-gateway/internal/ratelimit"
	"github.com/uptotrial/chat-gateway/internal/store"
	"github.com/uptotrial/chat-gateway/internal/trials"
)

// Gateway owns the HTTP server and the components behind it.
type Gateway struct {
	config     *config.Config
	store      store.Store
	chats      *chat.Orchestrator
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("UPTOTRIAL_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := trials.NewClient(cfg.Trials.BaseURL, logger)
	runner := agent.NewOpenAIRunner(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.ExplainModel,
		trials.Tools(registry),
		logger,
	)
	chats := chat.NewOrchestrator(s, runner, runner, cfg.Server.TurnTimeout, logger)

	g := &Gateway{
		config: cfg,
		store:  s,
		chats:  chats,
		logger: logger.With("component", "gateway"),
	}

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		logger.Info("HTTP auth middleware enabled")
	} else {
		logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}

	handler := g.buildHandler(verifier)
	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// buildHandler assembles the route mux and the middleware chain around it.
func (g *Gateway) buildHandler(verifier auth.TokenVerifier) http.Handler {
	mux := http.NewServeMux()

	// Health endpoint - no auth, no correlation ID, no rate limit
	mux.HandleFunc("GET /health", g.handleHealth)

	mux.HandleFunc("POST /api/chat", g.handleNewChat)
	mux.HandleFunc("POST /api/chat/{uuid}", g.handleChatTurn)
	mux.HandleFunc("GET /api/chat/{uuid}", g.handleChatHistory)
	mux.HandleFunc("POST /api/chat/streaming/new", g.handleStreamingNew)
	mux.HandleFunc("POST /api/chat/streaming/{uuid}", g.handleStreamingTurn)

	globalLimiter := ratelimit.New(g.config.RateLimit.GlobalRequests, g.config.RateLimit.Period)
	correlationLimiter := ratelimit.New(g.config.RateLimit.CorrelationIDRequests, g.config.RateLimit.Period)

	// Outermost first: correlation ID, then timing, then rate limiting,
	// then auth, mirroring the order checks should fail in.
	var handler http.Handler = mux
	handler = auth.Middleware(verifier, g.logger)(handler)
	handler = g.rateLimitMiddleware(globalLimiter, correlationLimiter)(handler)
	handler = timingMiddleware(handler)
	handler = g.correlationMiddleware(handler)
	return handler
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

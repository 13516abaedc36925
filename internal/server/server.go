// Package server exposes the HTTP and WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/foresightmarkets/foresight/internal/domain"
	"github.com/foresightmarkets/foresight/internal/server/handler"
	"github.com/foresightmarkets/foresight/internal/server/middleware"
	"github.com/foresightmarkets/foresight/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables auth
	RateLimit   int    // writes per window per client; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Markets *handler.MarketHandler
	Trades  *handler.TradeHandler
	Intel   *handler.IntelHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain. The write
// endpoints (trades, votes, analyze) additionally pass through the
// sliding-window rate limiter when one is supplied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check, no auth.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Markets.ResolveMarket)

	limited := func(h http.HandlerFunc) http.Handler {
		if limiter == nil || cfg.RateLimit <= 0 {
			return h
		}
		return middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	mux.Handle("POST /api/markets/{id}/trades", limited(handlers.Trades.PlaceTrade))
	mux.Handle("POST /api/markets/{id}/votes", limited(handlers.Markets.CastVote))
	mux.Handle("POST /api/markets/{id}/analyze", limited(handlers.Intel.Analyze))

	mux.HandleFunc("GET /api/markets/{id}/trades", handlers.Trades.ListMarketTrades)
	mux.HandleFunc("GET /api/markets/{id}/intel", handlers.Intel.GetIntelligence)
	mux.HandleFunc("GET /api/markets/{id}/arbitrage", handlers.Intel.GetArbitrage)

	mux.HandleFunc("GET /api/users/{id}/balance", handlers.Trades.GetBalance)
	mux.HandleFunc("GET /api/users/{id}/trades", handlers.Trades.ListUserTrades)

	mux.HandleFunc("GET /api/calibration/{agent}", handlers.Intel.GetCalibration)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start listens until the server errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

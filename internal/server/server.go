package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/predexchange/internal/domain"
	"github.com/alanyoungcy/predexchange/internal/server/handler"
	"github.com/alanyoungcy/predexchange/internal/server/middleware"
	"github.com/alanyoungcy/predexchange/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string

	// RateLimit is the per-IP request budget per RateWindow. Zero disables
	// limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Export and
// the hub are optional.
type Handlers struct {
	Health *handler.HealthHandler
	Replay *handler.ReplayHandler
	Sim    *handler.SimHandler
	Export *handler.ExportHandler
	Hub    *ws.Hub
}

// Server is the headless HTTP + WebSocket API for replay queries and
// simulations.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and wraps them in
// the rate limit, logging and CORS middleware.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed and wrapped handler without binding a port.
func NewHandler(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Replay queries.
	mux.HandleFunc("GET /api/events/stats", handlers.Replay.Stats)
	mux.HandleFunc("GET /api/assets/{asset_id}/chart", handlers.Replay.Chart)
	mux.HandleFunc("GET /api/assets/{asset_id}/heatmap", handlers.Replay.Heatmap)
	mux.HandleFunc("GET /api/assets/{asset_id}/mid", handlers.Replay.Mid)
	mux.HandleFunc("GET /api/assets/{asset_id}/last-mid", handlers.Replay.LastMid)

	// Simulation.
	mux.HandleFunc("GET /api/strategies", handlers.Sim.ListStrategies)
	mux.HandleFunc("POST /api/sim/runs", handlers.Sim.CreateRun)
	mux.HandleFunc("GET /api/sim/runs", handlers.Sim.ListRuns)
	mux.HandleFunc("GET /api/sim/runs/{run_id}", handlers.Sim.GetRun)

	if handlers.Export != nil {
		mux.HandleFunc("POST /api/exports", handlers.Export.Create)
		mux.HandleFunc("GET /api/exports", handlers.Export.List)
	}

	if handlers.Hub != nil {
		mux.HandleFunc("GET /api/ws", handlers.Hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

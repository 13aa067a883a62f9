// Package api exposes the optimizer over HTTP: agent registration and
// telemetry, decision requests, switch reports, the override command
// queue, and policy management.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/softcane/spot-optimizer/internal/baseline"
	"github.com/softcane/spot-optimizer/internal/engine"
	"github.com/softcane/spot-optimizer/internal/identity"
	"github.com/softcane/spot-optimizer/internal/ledger"
	"github.com/softcane/spot-optimizer/internal/queue"
	"github.com/softcane/spot-optimizer/internal/store"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

// DefaultServerConfig returns the listener defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		RequestTimeout: 15 * time.Second,
		RateLimitRPS:   20,
		RateLimitBurst: 40,
	}
}

// Deps carries the components the handlers call into.
type Deps struct {
	Store     *store.Store
	Engine    *engine.Engine
	Queue     *queue.Queue
	Ledger    *ledger.Ledger
	Resolver  identity.Resolver
	Baselines *baseline.Store
	Logger    *slog.Logger
}

// Server is the HTTP front of the optimizer.
type Server struct {
	cfg       ServerConfig
	router    *mux.Router
	server    *http.Server
	store     *store.Store
	engine    *engine.Engine
	queue     *queue.Queue
	ledger    *ledger.Ledger
	resolver  identity.Resolver
	baselines *baseline.Store
	limiters  *limiterPool
	logger    *slog.Logger
}

// NewServer wires the router and middleware chain.
func NewServer(cfg ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		router:    mux.NewRouter(),
		store:     deps.Store,
		engine:    deps.Engine,
		queue:     deps.Queue,
		ledger:    deps.Ledger,
		resolver:  deps.Resolver,
		baselines: deps.Baselines,
		limiters:  newLimiterPool(cfg.RateLimitRPS, cfg.RateLimitBurst),
		logger:    logger,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.timeoutMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/agents/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/agents/{agent_id}/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	api.HandleFunc("/agents/{agent_id}/config", s.handleGetConfig).Methods(http.MethodGet)
	api.HandleFunc("/agents/{agent_id}/config", s.handleUpdateConfig).Methods(http.MethodPut)
	api.HandleFunc("/agents/{agent_id}/commands", s.handlePendingCommands).Methods(http.MethodGet)

	api.HandleFunc("/pricing/report", s.handlePricingReport).Methods(http.MethodPost)
	api.HandleFunc("/decide", s.handleDecide).Methods(http.MethodPost)
	api.HandleFunc("/switches", s.handleSwitchReport).Methods(http.MethodPost)
	api.HandleFunc("/commands/{command_id}/ack", s.handleAckCommand).Methods(http.MethodPost)
	api.HandleFunc("/instances/{instance_id}/force-switch", s.handleForceSwitch).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
}

// Start serves until the context is cancelled, then drains with a
// grace period.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

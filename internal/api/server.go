package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/qlc-bridge/internal/bridges/qlc"
	"github.com/nerrad567/qlc-bridge/internal/catalog"
	"github.com/nerrad567/qlc-bridge/internal/infrastructure/config"
	"github.com/nerrad567/qlc-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/qlc-bridge/internal/process"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// eventBufferSize is the client subscription buffer used by the relay.
const eventBufferSize = 256

// HistoryStore reads and appends function status history.
type HistoryStore interface {
	GetHistory(ctx context.Context, kind qlc.EntityKind, id string, limit int) ([]catalog.HistoryEntry, error)
	RecordStatus(ctx context.Context, kind, id, status, source string) error
}

// ClassificationStore is the persistent classification cache.
type ClassificationStore interface {
	Len() int
	Reset(ctx context.Context) (int64, error)
}

// BridgeMetricsProvider exposes the MQTT bridge's view of the controller.
type BridgeMetricsProvider interface {
	GetMetrics() qlc.BridgeMetrics
}

// ConnectionChecker reports whether a dependency is connected.
type ConnectionChecker interface {
	IsConnected() bool
}

// ProcessStatsProvider reports on a supervised local QLC+ process.
type ProcessStatsProvider interface {
	Stats() process.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	// Controller is required.
	Controller qlc.Controller

	// The rest are optional; endpoints depending on a missing one
	// return 503 or omit the section.
	History         HistoryStore
	Classifications ClassificationStore
	Bridge          BridgeMetricsProvider
	MQTT            ConnectionChecker
	Process         ProcessStatsProvider
	Audit           AuditStore
	Version         string
}

// Server is the HTTP API server for the QLC+ bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg             config.APIConfig
	wsCfg           config.WebSocketConfig
	secCfg          config.SecurityConfig
	logger          *logging.Logger
	controller      qlc.Controller
	history         HistoryStore
	classifications ClassificationStore
	bridge          BridgeMetricsProvider
	mqtt            ConnectionChecker
	process         ProcessStatsProvider
	audit           AuditStore
	version         string
	startTime       time.Time
	registry        *prometheus.Registry
	server          *http.Server
	hub             *Hub
	cancel          context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, controller) plus optional stores
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}

	s := &Server{
		cfg:             deps.Config,
		wsCfg:           deps.WS,
		secCfg:          deps.Security,
		logger:          deps.Logger,
		controller:      deps.Controller,
		history:         deps.History,
		classifications: deps.Classifications,
		bridge:          deps.Bridge,
		mqtt:            deps.MQTT,
		process:         deps.Process,
		audit:           deps.Audit,
		version:         deps.Version,
		startTime:       time.Now(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	s.registry = newMetricsRegistry(s.controller)
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays controller events to it and launches
// the HTTP listener in a background goroutine. The server can be stopped
// with Close().
//
// Parameters:
//   - ctx: Parent context for the hub and relay goroutines
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	sub := s.controller.Subscribe(eventBufferSize)
	go func() {
		defer sub.Close()
		s.relayEvents(srvCtx, sub.Events())
	}()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

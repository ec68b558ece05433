package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/microcoaster-core/internal/audit"
	"github.com/nerrad567/microcoaster-core/internal/auth"
	"github.com/nerrad567/microcoaster-core/internal/command"
	"github.com/nerrad567/microcoaster-core/internal/device"
	"github.com/nerrad567/microcoaster-core/internal/events"
	"github.com/nerrad567/microcoaster-core/internal/hub"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/config"
	"github.com/nerrad567/microcoaster-core/internal/infrastructure/logging"
	"github.com/nerrad567/microcoaster-core/internal/presence"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthCheck is a named dependency probe reported by GET /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Devices  config.DevicesConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Users      auth.UserRepository
	Modules    device.Repository
	Hub        *hub.Hub
	Presence   *presence.Tracker
	Events     *events.Router
	Dispatcher *command.Dispatcher

	// Gateway serves module connections on Devices.Path. Optional.
	Gateway http.Handler

	// Audit records account and ownership actions. Optional.
	Audit audit.Repository

	// DBStats reports connection pool statistics for /admin/stats. Optional.
	DBStats func() DatabaseMetrics

	// MQTTConnected reports broker connectivity for /admin/stats. Optional.
	MQTTConnected func() bool

	Health  []HealthCheck
	Version string
}

// Server is the HTTP API server for MicroCoaster Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket ticket store.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	devicesCfg config.DevicesConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger

	users      auth.UserRepository
	modules    device.Repository
	hub        *hub.Hub
	presence   *presence.Tracker
	events     *events.Router
	dispatcher *command.Dispatcher
	gateway    http.Handler
	audit      audit.Repository

	dbStats       func() DatabaseMetrics
	mqttConnected func() bool
	health        []HealthCheck
	version       string
	startTime     time.Time

	tickets  *ticketStore
	upgrader websocket.Upgrader
	server   *http.Server
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	case deps.Users == nil:
		return nil, errors.New("user repository is required")
	case deps.Modules == nil:
		return nil, errors.New("module repository is required")
	case deps.Hub == nil:
		return nil, errors.New("connection hub is required")
	case deps.Presence == nil:
		return nil, errors.New("presence tracker is required")
	case deps.Events == nil:
		return nil, errors.New("event router is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("command dispatcher is required")
	}

	s := &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		devicesCfg:    deps.Devices,
		secCfg:        deps.Security,
		logger:        deps.Logger,
		users:         deps.Users,
		modules:       deps.Modules,
		hub:           deps.Hub,
		presence:      deps.Presence,
		events:        deps.Events,
		dispatcher:    deps.Dispatcher,
		gateway:       deps.Gateway,
		audit:         deps.Audit,
		dbStats:       deps.DBStats,
		mqttConnected: deps.MQTTConnected,
		health:        deps.Health,
		version:       deps.Version,
		startTime:     time.Now(),
		tickets:       newTicketStore(ticketTTL),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checking is handled by CORS middleware
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
	return s, nil
}

// Handler returns the fully wired router. Start uses it; tests can mount
// it on httptest.NewServer directly.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the ticket cleanup loop and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for background goroutines (not the listener)
//
// Returns:
//   - error: Always nil; listener failures are logged
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.tickets.cleanLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete. Hijacked
// WebSocket connections are not tracked by http.Server; the hub and the
// gateway close those.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
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
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}

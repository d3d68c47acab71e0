package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/pglive/internal/access"
	"github.com/nerrad567/pglive/internal/audit"
	"github.com/nerrad567/pglive/internal/broker"
	"github.com/nerrad567/pglive/internal/changeevent"
	"github.com/nerrad567/pglive/internal/identity"
	"github.com/nerrad567/pglive/internal/infrastructure/config"
	"github.com/nerrad567/pglive/internal/infrastructure/logging"
	"github.com/nerrad567/pglive/internal/live"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by every infrastructure component the
// health endpoint reports on.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// SessionFactory opens the storage session access checks run under for
// one identity.
type SessionFactory func(id identity.Identity) (access.Session, error)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Manager  *live.Manager
	Bridge   *broker.Bridge
	Codec    changeevent.Codec
	Identity *identity.Resolver
	Sessions SessionFactory

	// Optional.
	Audit    audit.Repository
	Gatherer prometheus.Gatherer
	Health   map[string]HealthChecker
	Version  string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	manager   *live.Manager
	bridge    *broker.Bridge
	codec     changeevent.Codec
	identity  *identity.Resolver
	sessions  SessionFactory
	auditRepo audit.Repository
	gatherer  prometheus.Gatherer
	health    map[string]HealthChecker
	version   string
	startTime time.Time

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Manager == nil {
		return nil, errors.New("live manager is required")
	}
	if deps.Bridge == nil {
		return nil, errors.New("broker bridge is required")
	}
	if deps.Identity == nil || deps.Sessions == nil {
		return nil, errors.New("identity resolver and session factory are required")
	}
	if deps.Codec.Prefix == "" {
		deps.Codec = changeevent.NewCodec("")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger.With("component", "api"),
		manager:   deps.Manager,
		bridge:    deps.Bridge,
		codec:     deps.Codec,
		identity:  deps.Identity,
		sessions:  deps.Sessions,
		auditRepo: deps.Audit,
		gatherer:  deps.Gatherer,
		health:    deps.Health,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
	}, nil
}

// Handler returns the routed HTTP handler. Start serves the same handler.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	if s.server != nil {
		return errors.New("api server already started")
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

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

// Close gracefully shuts down the HTTP server and disconnects WebSocket
// clients, which closes their subscriptions.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
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

// HealthCheck verifies the API server is running.
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

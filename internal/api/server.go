package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/metaneutrons/snapdog2-sub010/internal/auth"
	"github.com/metaneutrons/snapdog2-sub010/internal/bridges/knx"
	mqttbridge "github.com/metaneutrons/snapdog2-sub010/internal/bridges/mqtt"
	"github.com/metaneutrons/snapdog2-sub010/internal/feature"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/config"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/logging"
	"github.com/metaneutrons/snapdog2-sub010/internal/pipeline"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Pipeline dispatches commands and queries; *pipeline.Pipeline implements it.
type Pipeline interface {
	Send(ctx context.Context, cmd pipeline.Command) pipeline.Result
	Query(ctx context.Context, q pipeline.Query) pipeline.Value[any]
}

// MQTTMetricsProvider exposes MQTT bridge counters.
type MQTTMetricsProvider interface {
	GetMetrics() mqttbridge.BridgeMetrics
}

// KNXMetricsProvider exposes KNX bridge counters.
type KNXMetricsProvider interface {
	GetMetrics() knx.BridgeMetrics
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Pipeline Pipeline
	Registry *feature.Registry
	MQTT     MQTTMetricsProvider // optional
	KNX      KNXMetricsProvider  // optional
	Version  string
}

// Server is the HTTP API server for SnapDog.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	pipeline  Pipeline
	registry  *feature.Registry
	mqtt      MQTTMetricsProvider
	knx       KNXMetricsProvider
	version   string
	hub       *Hub
	tickets   *ticketStore
	users     *auth.Users // nil when password login is off
	limiter   *ipLimiter // nil when rate limiting is disabled
	startTime time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but its Hub is live
// and may be subscribed to the notification dispatcher right away.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("feature registry is required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		pipeline:  deps.Pipeline,
		registry:  deps.Registry,
		mqtt:      deps.MQTT,
		knx:       deps.KNX,
		version:   deps.Version,
		hub:       NewHub(deps.Config.WebSocket, deps.Logger),
		tickets:   newTicketStore(),
		startTime: time.Now(),
	}
	users, err := usersFrom(deps.Config.Auth)
	if err != nil {
		return nil, fmt.Errorf("loading api users: %w", err)
	}
	s.users = users
	if rl := deps.Config.RateLimit; rl.Enabled {
		s.limiter = newIPLimiter(rl.RequestsPerSecond, rl.Burst)
	}
	return s, nil
}

// Hub returns the WebSocket hub. Subscribe its HandleNotification to the
// notification dispatcher.
func (s *Server) Hub() *Hub { return s.hub }

// Start binds the listener and serves in a background goroutine.
//
// Returns:
//   - error: If the address cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	srvCtx, cancel := context.WithCancel(ctx)

	srv := &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       config.Seconds(s.cfg.Timeouts.Read),
		ReadHeaderTimeout: config.Seconds(s.cfg.Timeouts.Read),
		WriteTimeout:      config.Seconds(s.cfg.Timeouts.Write),
		IdleTimeout:       config.Seconds(s.cfg.Timeouts.Idle),
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	go s.hub.Run(srvCtx)
	go s.tickets.cleanLoop(srvCtx)
	if s.limiter != nil {
		go s.limiter.run(srvCtx)
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	// Cancel background goroutines (hub, ticket and limiter cleanup)
	cancel()

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

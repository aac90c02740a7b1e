package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/crm-core/internal/audit"
	"github.com/nerrad567/crm-core/internal/auth"
	"github.com/nerrad567/crm-core/internal/infrastructure/config"
	"github.com/nerrad567/crm-core/internal/infrastructure/logging"
	"github.com/nerrad567/crm-core/internal/store"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Auth     *auth.Service
	Matrix   *auth.Matrix    // defaults to auth.NewMatrix()
	Selector *store.Selector // backend choice per request

	// Audit receives auth and write events. Nil disables recording.
	Audit *audit.Recorder
	// AuditRepo serves GET /audit. Nil makes the route answer 503.
	AuditRepo audit.Repository

	// Registry collects the HTTP metrics. A private registry is created
	// when nil.
	Registry *prometheus.Registry

	// Checks are optional outputs reported under "components" on /health,
	// keyed by name. A failing check does not fail the endpoint.
	Checks map[string]func(context.Context) error

	Version string
}

// Server is the HTTP API server for CRM Core.
//
// It manages the HTTP listener, routes and middleware.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	auth      *auth.Service
	matrix    *auth.Matrix
	selector  *store.Selector
	audit     *audit.Recorder
	auditRepo audit.Repository
	metrics   *metrics
	limiter   *ipLimiter
	checks    map[string]func(context.Context) error
	version   string

	handlerOnce sync.Once
	handler     http.Handler

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, auth service, selector)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required")
	}
	if deps.Selector == nil {
		return nil, fmt.Errorf("store selector is required")
	}

	matrix := deps.Matrix
	if matrix == nil {
		matrix = auth.NewMatrix()
	}
	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	s := &Server{
		cfg:       deps.Config,
		secCfg:    deps.Security,
		logger:    deps.Logger.With("component", "api"),
		auth:      deps.Auth,
		matrix:    matrix,
		selector:  deps.Selector,
		audit:     deps.Audit,
		auditRepo: deps.AuditRepo,
		metrics:   newMetrics(registry),
		checks:    deps.Checks,
		version:   deps.Version,
	}

	if rl := deps.Security.RateLimit; rl.Enabled {
		s.limiter = newIPLimiter(rl.RequestsPerMinute, rl.Burst)
	}

	return s, nil
}

// Handler returns the fully wired HTTP handler. It is built once.
func (s *Server) Handler() http.Handler {
	s.handlerOnce.Do(func() {
		s.handler = s.buildRouter()
	})
	return s.handler
}

// Start binds the listen address and serves in the background.
//
// A bind failure is returned directly. The rate limiter sweep runs until
// ctx is cancelled or Close is called.
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.limiter != nil {
		go s.limiter.run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
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

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

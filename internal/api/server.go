package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ravenholt/forgepanel/internal/audit"
	"github.com/ravenholt/forgepanel/internal/auth"
	"github.com/ravenholt/forgepanel/internal/fleet"
	"github.com/ravenholt/forgepanel/internal/infrastructure/config"
	"github.com/ravenholt/forgepanel/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	WebUI    config.WebUIConfig
	Logger   *logging.Logger

	Fleet *fleet.Manager

	Users      auth.UserRepository
	Roles      auth.RoleRepository
	Access     auth.AccessRepository
	Sessions   auth.SessionRepository
	Accounts   *auth.Accounts
	Authorizer *auth.Authorizer

	// Audit is optional; when nil, audit trail writes are skipped.
	Audit audit.Repository

	// DataDir is the root under which servers created without an
	// explicit working directory get theirs (DataDir/<slug>).
	DataDir string

	Version string
}

// Server is the HTTP API server for Forge Panel.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	webUICfg config.WebUIConfig
	logger   *logging.Logger

	fleet      *fleet.Manager
	users      auth.UserRepository
	roles      auth.RoleRepository
	access     auth.AccessRepository
	sessions   auth.SessionRepository
	accounts   *auth.Accounts
	authorizer *auth.Authorizer
	auditRepo  audit.Repository

	dataDir   string
	version   string
	startTime time.Time

	server  *http.Server
	hub     *Hub
	tickets *ticketStore
	auditCh chan *audit.AuditLog
	cancel  context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Fleet == nil {
		return nil, fmt.Errorf("fleet manager is required")
	}
	if deps.Users == nil || deps.Roles == nil || deps.Access == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("auth repositories are required")
	}
	if deps.Accounts == nil {
		return nil, fmt.Errorf("accounts service is required")
	}
	if deps.Authorizer == nil {
		return nil, fmt.Errorf("authorizer is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		webUICfg:   deps.WebUI,
		logger:     deps.Logger,
		fleet:      deps.Fleet,
		users:      deps.Users,
		roles:      deps.Roles,
		access:     deps.Access,
		sessions:   deps.Sessions,
		accounts:   deps.Accounts,
		authorizer: deps.Authorizer,
		auditRepo:  deps.Audit,
		dataDir:    deps.DataDir,
		version:    deps.Version,
		startTime:  time.Now(),
		tickets:    newTicketStore(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, registers the fleet
// event sink for real-time WebSocket broadcast, and launches the HTTP
// listener in a background goroutine. The server is stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	// Internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	s.hub.authorize = s.authorizeChannel
	go s.hub.Run(srvCtx)

	// Periodic ticket cleanup to prevent memory leaks
	go s.cleanTicketsLoop(srvCtx)

	// Serialised audit trail writer
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
		go s.drainAuditLog(srvCtx)
	}

	// Relay adapter status and console events to WebSocket subscribers
	s.fleet.AddSink(s.broadcastFleetEvent)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
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
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, ticket cleanup, audit writer)
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

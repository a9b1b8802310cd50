package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ravenholt/forgepanel/internal/auth"
	"github.com/ravenholt/forgepanel/internal/webui"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Auth endpoints (no auth required)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
		r.Post("/auth/logout", s.handleLogout)

		// WebSocket upgrade authenticates with a single-use ticket;
		// browsers cannot set an Authorization header here.
		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/change-password", s.handleChangePassword)

			// WS ticket requires authentication - user must be logged in to request a ticket
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// System metrics
			r.Get("/metrics", s.handleMetrics)

			// User management
			r.Route("/users", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermUsersManage))
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Get("/{id}", s.handleGetUser)
				r.Patch("/{id}", s.handleUpdateUser)
				r.Delete("/{id}", s.handleDeleteUser)
			})

			// Role management
			r.Route("/roles", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermRolesManage))
				r.Get("/", s.handleListRoles)
				r.Post("/", s.handleCreateRole)
				r.Get("/{id}", s.handleGetRole)
				r.Patch("/{id}", s.handleUpdateRole)
				r.Delete("/{id}", s.handleDeleteRole)
			})

			// Server management. Per-server access levels are checked in
			// the handlers; only creation is a panel-wide permission.
			r.Route("/servers", func(r chi.Router) {
				r.Get("/", s.handleListServers)
				r.With(s.requirePermission(auth.PermServersCreate)).Post("/", s.handleCreateServer)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetServer)
					r.Patch("/", s.handleUpdateServer)
					r.Delete("/", s.handleDeleteServer)
					r.Patch("/launch-config", s.handleUpdateLaunchConfig)

					// Process lifecycle
					r.Post("/start", s.handleStartServer)
					r.Post("/stop", s.handleStopServer)
					r.Post("/restart", s.handleRestartServer)
					r.Post("/command", s.handleSendCommand)
					r.Get("/logs", s.handleGetLogs)
					r.Post("/install", s.handleInstallServer)
					r.Post("/update", s.handleUpdateGame)

					// Access grants
					r.Route("/access", func(r chi.Router) {
						r.Get("/", s.handleListGrants)
						r.Post("/", s.handleCreateGrant)
						r.Patch("/{grantID}", s.handleUpdateGrant)
						r.Delete("/{grantID}", s.handleRevokeGrant)
					})
					r.Post("/transfer-ownership", s.handleTransferOwnership)
				})
			})

			// Audit trail
			r.With(s.requirePermission(auth.PermAuditView)).Get("/audit", s.handleListAuditLogs)
		})
	})

	// Operator web UI (static SPA build); everything not matched above
	if s.webUICfg.Enabled {
		r.Handle("/*", webui.Handler(s.webUICfg.Dir))
	}

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

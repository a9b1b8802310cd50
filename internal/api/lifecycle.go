package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ravenholt/forgepanel/internal/adapter"
	"github.com/ravenholt/forgepanel/internal/auth"
)

type commandRequest struct {
	Command string `json:"command"`
}

type stopRequest struct {
	// TimeoutSeconds overrides the configured graceful stop timeout for
	// this call only. Zero or absent means the configured default.
	TimeoutSeconds int `json:"timeout,omitempty"`
}

type updateGameRequest struct {
	TargetVersion string `json:"target_version,omitempty"`
}

// handleStartServer launches the server process.
func (s *Server) handleStartServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	if !s.authorizeServer(w, r, serverID, auth.LevelOperator) {
		return
	}

	a, err := s.fleet.Adapter(serverID)
	if err != nil {
		writeDomainError(w, err, "failed to resolve server")
		return
	}

	if err := a.Start(r.Context()); err != nil {
		writeDomainError(w, err, "failed to start server")
		return
	}

	s.auditLog("start", "server", serverID, currentUserID(r.Context()), nil)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": string(a.Status()),
		"pid":    a.PID(),
	})
}

// handleStopServer terminates the server process. The optional body
// field timeout (seconds) bounds the graceful wait for this call; the
// configured default applies otherwise. A 504 with code
// operation_timeout means the process ignored the graceful stop and was
// killed.
func (s *Server) handleStopServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	if !s.authorizeServer(w, r, serverID, auth.LevelOperator) {
		return
	}

	var req stopRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}
	if req.TimeoutSeconds < 0 {
		writeBadRequest(w, "timeout must be a non-negative number of seconds")
		return
	}

	a, err := s.fleet.Adapter(serverID)
	if err != nil {
		writeDomainError(w, err, "failed to resolve server")
		return
	}

	if err := a.Stop(r.Context(), time.Duration(req.TimeoutSeconds)*time.Second); err != nil {
		writeDomainError(w, err, "failed to stop server")
		return
	}

	s.auditLog("stop", "server", serverID, currentUserID(r.Context()), nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": string(a.Status()),
	})
}

// handleRestartServer performs a sequential stop-then-start.
func (s *Server) handleRestartServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	if !s.authorizeServer(w, r, serverID, auth.LevelOperator) {
		return
	}

	a, err := s.fleet.Adapter(serverID)
	if err != nil {
		writeDomainError(w, err, "failed to resolve server")
		return
	}

	if err := a.Restart(r.Context()); err != nil {
		writeDomainError(w, err, "failed to restart server")
		return
	}

	s.auditLog("start", "server", serverID, currentUserID(r.Context()), map[string]any{
		"restart": true,
	})
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": string(a.Status()),
		"pid":    a.PID(),
	})
}

// handleSendCommand writes a command line to the server's stdin.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	if !s.authorizeServer(w, r, serverID, auth.LevelOperator) {
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeBadRequest(w, "command is required")
		return
	}

	a, err := s.fleet.Adapter(serverID)
	if err != nil {
		writeDomainError(w, err, "failed to resolve server")
		return
	}

	if !a.SendCommand(req.Command) {
		writeConflict(w, "server is not running")
		return
	}

	s.auditLog("command", "server", serverID, currentUserID(r.Context()), map[string]any{
		"command": req.Command,
	})
	writeJSON(w, http.StatusAccepted, map[string]any{"sent": true})
}

// handleGetLogs returns buffered console output for a server. The
// optional lines query parameter tails the buffer.
func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	if !s.authorizeServer(w, r, serverID, auth.LevelViewer) {
		return
	}

	a, err := s.fleet.Adapter(serverID)
	if err != nil {
		writeDomainError(w, err, "failed to resolve server")
		return
	}

	lines := a.LogBuffer()
	if v := r.URL.Query().Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "lines must be a non-negative integer")
			return
		}
		if n < len(lines) {
			lines = lines[len(lines)-n:]
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"lines": lines,
		"count": len(lines),
	})
}

// handleInstallServer provisions the server's working directory.
func (s *Server) handleInstallServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	if !s.authorizeServer(w, r, serverID, auth.LevelAdmin) {
		return
	}

	a, err := s.fleet.Adapter(serverID)
	if err != nil {
		writeDomainError(w, err, "failed to resolve server")
		return
	}

	if err := a.Install(r.Context()); err != nil {
		writeDomainError(w, err, "failed to install server")
		return
	}

	s.auditLog("update", "server", serverID, currentUserID(r.Context()), map[string]any{
		"operation": "install",
	})
	writeJSON(w, http.StatusOK, map[string]any{"installed": true})
}

// handleUpdateGame runs a game update through the adapter. Updates are
// mutually exclusive with each other and with a running server.
func (s *Server) handleUpdateGame(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	if !s.authorizeServer(w, r, serverID, auth.LevelAdmin) {
		return
	}

	var req updateGameRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body")
			return
		}
	}

	a, err := s.fleet.Adapter(serverID)
	if err != nil {
		writeDomainError(w, err, "failed to resolve server")
		return
	}

	if err := adapter.Update(r.Context(), a, req.TargetVersion); err != nil {
		writeDomainError(w, err, "failed to update server")
		return
	}

	s.auditLog("update", "server", serverID, currentUserID(r.Context()), map[string]any{
		"operation":      "game_update",
		"target_version": req.TargetVersion,
	})
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

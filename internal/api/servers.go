package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ravenholt/forgepanel/internal/auth"
	"github.com/ravenholt/forgepanel/internal/fleet"
	"github.com/ravenholt/forgepanel/internal/server"
)

// ─── Request/Response Types ────────────────────────────────────────

type createServerRequest struct {
	Name         string              `json:"name"`
	Slug         string              `json:"slug,omitempty"`
	GameType     server.GameType     `json:"game_type"`
	WorkingDir   string              `json:"working_dir,omitempty"`
	LaunchConfig server.LaunchConfig `json:"launch_config,omitempty"`
	Port         int                 `json:"port,omitempty"`
}

type updateServerRequest struct {
	Name       *string          `json:"name,omitempty"`
	GameType   *server.GameType `json:"game_type,omitempty"`
	WorkingDir *string          `json:"working_dir,omitempty"`
	Port       *int             `json:"port,omitempty"`
}

// serverView is the API representation of a server with its live state.
type serverView struct {
	fleet.Snapshot
	AccessLevel auth.AccessLevel `json:"access_level,omitempty"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListServers returns the servers the caller can see: panel
// admins see the whole fleet, everyone else only servers they hold an
// access grant for.
func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r.Context())

	isAdmin, err := s.authorizer.HasPanelPermission(r.Context(), userID, auth.PermPanelAdmin)
	if err != nil {
		s.logger.Error("permission check failed", "error", err)
		writeInternalError(w, "failed to list servers")
		return
	}

	snapshots, err := s.fleet.Snapshots(r.Context())
	if err != nil {
		s.logger.Error("fleet snapshot failed", "error", err)
		writeInternalError(w, "failed to list servers")
		return
	}

	var views []serverView
	if isAdmin {
		views = make([]serverView, 0, len(snapshots))
		for _, snap := range snapshots {
			views = append(views, serverView{Snapshot: snap, AccessLevel: auth.LevelOwner})
		}
	} else {
		grants, err := s.access.ListByUser(r.Context(), userID)
		if err != nil {
			s.logger.Error("grant list failed", "user_id", userID, "error", err)
			writeInternalError(w, "failed to list servers")
			return
		}
		levels := make(map[string]auth.AccessLevel, len(grants))
		for _, g := range grants {
			levels[g.ServerID] = g.Level
		}
		views = make([]serverView, 0, len(levels))
		for _, snap := range snapshots {
			if level, ok := levels[snap.Server.ID]; ok {
				views = append(views, serverView{Snapshot: snap, AccessLevel: level})
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"servers": views,
		"count":   len(views),
	})
}

// handleCreateServer creates a server record and grants the creator the
// owner access level.
func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req createServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	userID := currentUserID(r.Context())

	srv := &server.Server{
		Name:         req.Name,
		Slug:         req.Slug,
		GameType:     req.GameType,
		WorkingDir:   req.WorkingDir,
		LaunchConfig: req.LaunchConfig,
		Port:         req.Port,
		CreatedBy:    userID,
	}
	if strings.TrimSpace(srv.WorkingDir) == "" && s.dataDir != "" {
		slug := srv.Slug
		if slug == "" {
			slug = server.GenerateSlug(srv.Name)
		}
		srv.WorkingDir = filepath.Join(s.dataDir, slug)
	}

	if err := s.fleet.CreateServer(r.Context(), srv); err != nil {
		writeDomainError(w, err, "failed to create server")
		return
	}

	// The creator becomes the server's single owner.
	if _, err := s.access.GrantOwnerOnCreate(r.Context(), userID, srv.ID); err != nil {
		s.logger.Error("owner grant failed, rolling back server", "server_id", srv.ID, "error", err)
		if derr := s.fleet.DeleteServer(r.Context(), srv.ID); derr != nil {
			s.logger.Error("server rollback failed", "server_id", srv.ID, "error", derr)
		}
		writeInternalError(w, "failed to create server")
		return
	}

	s.auditLog("create", "server", srv.ID, userID, map[string]any{
		"name":      srv.Name,
		"game_type": string(srv.GameType),
	})
	writeJSON(w, http.StatusCreated, srv)
}

// handleGetServer returns a server record with its live status.
func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	if !s.authorizeServer(w, r, serverID, auth.LevelViewer) {
		return
	}

	snap, err := s.fleet.Snapshot(r.Context(), serverID)
	if err != nil {
		writeDomainError(w, err, "failed to load server")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// handleUpdateServer edits a server record (name, game type, working
// directory, port). Record edits are refused while the server process is
// running; launch-config changes go through handleUpdateLaunchConfig.
func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	if !s.authorizeServer(w, r, serverID, auth.LevelAdmin) {
		return
	}

	var req updateServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	snap, err := s.fleet.Snapshot(r.Context(), serverID)
	if err != nil {
		writeDomainError(w, err, "failed to load server")
		return
	}
	srv := snap.Server

	if req.Name != nil {
		srv.Name = *req.Name
	}
	if req.GameType != nil {
		srv.GameType = *req.GameType
	}
	if req.WorkingDir != nil {
		srv.WorkingDir = *req.WorkingDir
	}
	if req.Port != nil {
		srv.Port = *req.Port
	}

	if err := s.fleet.UpdateServer(r.Context(), &srv); err != nil {
		writeDomainError(w, err, "failed to update server")
		return
	}

	s.auditLog("update", "server", serverID, currentUserID(r.Context()), nil)
	writeJSON(w, http.StatusOK, srv)
}

// handleUpdateLaunchConfig merges a partial launch-config document into
// the server's launch configuration. Allowed while the server is
// running; changes take effect on the next start.
func (s *Server) handleUpdateLaunchConfig(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	if !s.authorizeServer(w, r, serverID, auth.LevelAdmin) {
		return
	}

	var partial server.LaunchConfig
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	merged, err := s.fleet.UpdateLaunchConfig(r.Context(), serverID, partial)
	if err != nil {
		writeDomainError(w, err, "failed to update launch config")
		return
	}

	s.auditLog("update", "server", serverID, currentUserID(r.Context()), map[string]any{
		"field": "launch_config",
	})
	writeJSON(w, http.StatusOK, map[string]any{"launch_config": merged})
}

// handleDeleteServer stops and deletes a server. Only the owner or a
// panel admin may delete a server.
func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	userID := currentUserID(r.Context())

	allowed, err := s.authorizer.IsOwnerOrPanelAdmin(r.Context(), userID, serverID)
	if err != nil {
		s.logger.Error("ownership check failed", "server_id", serverID, "error", err)
		writeInternalError(w, "permission check failed")
		return
	}
	if !allowed {
		writeForbidden(w, "only the owner can delete a server")
		return
	}

	if err := s.fleet.DeleteServer(r.Context(), serverID); err != nil && !errors.Is(err, server.ErrServerNotFound) {
		writeDomainError(w, err, "failed to delete server")
		return
	}

	s.auditLog("delete", "server", serverID, userID, nil)
	writeJSON(w, http.StatusNoContent, nil)
}

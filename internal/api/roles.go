package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ravenholt/forgepanel/internal/auth"
)

type createRoleRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Permissions []auth.Permission `json:"permissions"`
}

type updateRoleRequest struct {
	Name        *string            `json:"name,omitempty"`
	Description *string            `json:"description,omitempty"`
	Permissions *[]auth.Permission `json:"permissions,omitempty"`
}

// handleListRoles returns all roles.
func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.roles.List(r.Context())
	if err != nil {
		s.logger.Error("list roles failed", "error", err)
		writeInternalError(w, "failed to list roles")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"roles": roles,
		"count": len(roles),
	})
}

// handleCreateRole creates a custom role.
func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}
	for _, p := range req.Permissions {
		if !auth.IsValidPermission(p) {
			writeValidation(w, "unknown permission: "+string(p))
			return
		}
	}

	role := &auth.Role{
		Name:        req.Name,
		Description: req.Description,
		Permissions: auth.NewPermissionSet(req.Permissions...),
	}

	if err := s.roles.Create(r.Context(), role); err != nil {
		writeDomainError(w, err, "failed to create role")
		return
	}

	s.auditLog("create", "role", role.ID, currentUserID(r.Context()), map[string]any{
		"name": role.Name,
	})
	writeJSON(w, http.StatusCreated, role)
}

// handleGetRole returns a single role.
func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := s.roles.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "failed to load role")
		return
	}
	writeJSON(w, http.StatusOK, role)
}

// handleUpdateRole applies a partial update to a custom role. System
// roles are immutable.
func (s *Server) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	role, err := s.roles.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "failed to load role")
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			writeBadRequest(w, "name cannot be empty")
			return
		}
		role.Name = *req.Name
	}
	if req.Description != nil {
		role.Description = *req.Description
	}
	if req.Permissions != nil {
		for _, p := range *req.Permissions {
			if !auth.IsValidPermission(p) {
				writeValidation(w, "unknown permission: "+string(p))
				return
			}
		}
		role.Permissions = auth.NewPermissionSet(*req.Permissions...)
	}

	if err := s.roles.Update(r.Context(), role); err != nil {
		writeDomainError(w, err, "failed to update role")
		return
	}

	s.auditLog("update", "role", role.ID, currentUserID(r.Context()), nil)
	writeJSON(w, http.StatusOK, role)
}

// handleDeleteRole removes a custom role. Roles still assigned to users
// and system roles cannot be deleted.
func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "id")

	if err := s.roles.Delete(r.Context(), roleID); err != nil {
		writeDomainError(w, err, "failed to delete role")
		return
	}

	s.auditLog("delete", "role", roleID, currentUserID(r.Context()), nil)
	writeJSON(w, http.StatusNoContent, nil)
}

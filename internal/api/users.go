package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ravenholt/forgepanel/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type createUserRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	RoleID      string `json:"role_id,omitempty"`
}

type updateUserRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	RoleID      *string `json:"role_id,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleListUsers returns all user accounts.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates a new user account.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.Email == "" || req.Password == "" || req.DisplayName == "" {
		writeBadRequest(w, "email, password, and display_name are required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeBadRequest(w, "password must be at least 8 characters")
		return
	}
	if !auth.IsValidEmail(auth.NormalizeEmail(req.Email)) {
		writeValidation(w, "invalid email address")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("password hash failed", "error", err)
		writeInternalError(w, "failed to create user")
		return
	}

	user := &auth.User{
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		RoleID:       req.RoleID,
		IsActive:     true,
		CreatedBy:    currentUserID(r.Context()),
	}

	if err := s.accounts.Create(r.Context(), user); err != nil {
		writeDomainError(w, err, "failed to create user")
		return
	}

	s.auditLog("create", "user", user.ID, currentUserID(r.Context()), map[string]any{
		"email": user.Email,
	})
	writeJSON(w, http.StatusCreated, user)
}

// handleGetUser returns a single user account.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser applies a partial update to a user account. Role and
// activation changes pass through the self-protection guards: no
// self-demotion, and the last active panel admin cannot be removed.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, err := s.users.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "failed to load user")
		return
	}

	if req.DisplayName != nil {
		if *req.DisplayName == "" {
			writeBadRequest(w, "display_name cannot be empty")
			return
		}
		user.DisplayName = *req.DisplayName
	}
	if req.RoleID != nil {
		user.RoleID = *req.RoleID
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	if err := s.accounts.Update(r.Context(), currentUserID(r.Context()), user); err != nil {
		writeDomainError(w, err, "failed to update user")
		return
	}

	// Deactivation kills the user's live sessions.
	if req.IsActive != nil && !*req.IsActive {
		if err := s.sessions.RevokeAllForUser(r.Context(), user.ID); err != nil {
			s.logger.Error("session revocation failed", "user_id", user.ID, "error", err)
		}
	}

	s.auditLog("update", "user", user.ID, currentUserID(r.Context()), nil)
	writeJSON(w, http.StatusOK, user)
}

// handleDeleteUser removes a user account.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	if err := s.accounts.Delete(r.Context(), currentUserID(r.Context()), userID); err != nil {
		writeDomainError(w, err, "failed to delete user")
		return
	}

	if err := s.sessions.RevokeAllForUser(r.Context(), userID); err != nil {
		s.logger.Error("session revocation failed", "user_id", userID, "error", err)
	}

	s.auditLog("delete", "user", userID, currentUserID(r.Context()), nil)
	writeJSON(w, http.StatusNoContent, nil)
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ravenholt/forgepanel/internal/auth"
)

type grantRequest struct {
	UserID string           `json:"user_id"`
	Level  auth.AccessLevel `json:"level"`
}

type updateGrantRequest struct {
	Level auth.AccessLevel `json:"level"`
}

type transferRequest struct {
	NewOwnerID string `json:"new_owner_id"`
}

// handleListGrants returns every access grant for a server.
func (s *Server) handleListGrants(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	if !s.authorizeServer(w, r, serverID, auth.LevelAdmin) {
		return
	}

	grants, err := s.access.ListByServer(r.Context(), serverID)
	if err != nil {
		s.logger.Error("grant list failed", "server_id", serverID, "error", err)
		writeInternalError(w, "failed to list access grants")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"grants": grants,
		"count":  len(grants),
	})
}

// handleCreateGrant grants a user access to a server. The owner level
// cannot be granted here; it only moves via ownership transfer.
func (s *Server) handleCreateGrant(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	if !s.authorizeServer(w, r, serverID, auth.LevelAdmin) {
		return
	}

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.UserID == "" {
		writeBadRequest(w, "user_id is required")
		return
	}
	if !auth.IsValidAccessLevel(req.Level) {
		writeValidation(w, "level must be viewer, operator, admin, or owner")
		return
	}
	if req.Level == auth.LevelOwner {
		writeValidation(w, "ownership is assigned via transfer, not grants")
		return
	}

	grant, err := s.access.Grant(r.Context(), req.UserID, serverID, req.Level)
	if err != nil {
		writeDomainError(w, err, "failed to create access grant")
		return
	}

	s.auditLog("create", "grant", grant.ID, currentUserID(r.Context()), map[string]any{
		"user_id":   req.UserID,
		"server_id": serverID,
		"level":     string(req.Level),
	})
	writeJSON(w, http.StatusCreated, grant)
}

// handleUpdateGrant changes the level of an existing grant. Owner
// entries are immutable here.
func (s *Server) handleUpdateGrant(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	grantID := chi.URLParam(r, "grantID")
	if !s.authorizeServer(w, r, serverID, auth.LevelAdmin) {
		return
	}

	var req updateGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !auth.IsValidAccessLevel(req.Level) {
		writeValidation(w, "level must be viewer, operator, admin, or owner")
		return
	}
	if req.Level == auth.LevelOwner {
		writeValidation(w, "ownership is assigned via transfer, not grants")
		return
	}

	grant, err := s.grantForServer(r, grantID, serverID)
	if err != nil {
		writeDomainError(w, err, "failed to load access grant")
		return
	}

	if err := s.access.UpdateLevel(r.Context(), grant.ID, req.Level); err != nil {
		writeDomainError(w, err, "failed to update access grant")
		return
	}
	grant.Level = req.Level

	s.auditLog("update", "grant", grant.ID, currentUserID(r.Context()), map[string]any{
		"level": string(req.Level),
	})
	writeJSON(w, http.StatusOK, grant)
}

// handleRevokeGrant removes an access grant. The owner entry cannot be
// revoked; ownership must be transferred first.
func (s *Server) handleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	grantID := chi.URLParam(r, "grantID")
	if !s.authorizeServer(w, r, serverID, auth.LevelAdmin) {
		return
	}

	grant, err := s.grantForServer(r, grantID, serverID)
	if err != nil {
		writeDomainError(w, err, "failed to load access grant")
		return
	}

	if err := s.access.Revoke(r.Context(), grant.ID); err != nil {
		writeDomainError(w, err, "failed to revoke access grant")
		return
	}

	s.auditLog("delete", "grant", grant.ID, currentUserID(r.Context()), map[string]any{
		"user_id": grant.UserID,
	})
	writeJSON(w, http.StatusNoContent, nil)
}

// handleTransferOwnership moves the owner entry to another user. Only
// the current owner or a panel admin may transfer; the previous owner
// is left with the admin level.
func (s *Server) handleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	userID := currentUserID(r.Context())

	allowed, err := s.authorizer.IsOwnerOrPanelAdmin(r.Context(), userID, serverID)
	if err != nil {
		s.logger.Error("ownership check failed", "server_id", serverID, "error", err)
		writeInternalError(w, "permission check failed")
		return
	}
	if !allowed {
		writeForbidden(w, "only the owner can transfer ownership")
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.NewOwnerID == "" {
		writeBadRequest(w, "new_owner_id is required")
		return
	}

	// The transfer verifies the current owner inside its transaction.
	owner, err := s.currentOwner(r, serverID)
	if err != nil {
		writeDomainError(w, err, "failed to resolve current owner")
		return
	}

	if err := s.access.TransferOwnership(r.Context(), serverID, req.NewOwnerID, owner); err != nil {
		writeDomainError(w, err, "failed to transfer ownership")
		return
	}

	s.auditLog("transfer", "server", serverID, userID, map[string]any{
		"from": owner,
		"to":   req.NewOwnerID,
	})
	writeJSON(w, http.StatusNoContent, nil)
}

// grantForServer loads a grant and checks it belongs to the server in
// the URL, so grant IDs cannot be used across servers.
func (s *Server) grantForServer(r *http.Request, grantID, serverID string) (*auth.ServerAccess, error) {
	grant, err := s.access.GetByID(r.Context(), grantID)
	if err != nil {
		return nil, err
	}
	if grant.ServerID != serverID {
		return nil, auth.ErrGrantNotFound
	}
	return grant, nil
}

// currentOwner returns the user ID holding the owner entry for the server.
func (s *Server) currentOwner(r *http.Request, serverID string) (string, error) {
	grants, err := s.access.ListByServer(r.Context(), serverID)
	if err != nil {
		return "", err
	}
	for _, g := range grants {
		if g.Level == auth.LevelOwner {
			return g.UserID, nil
		}
	}
	return "", auth.ErrGrantNotFound
}

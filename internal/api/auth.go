package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ravenholt/forgepanel/internal/auth"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// minPasswordLength is the minimum accepted password length.
const minPasswordLength = 8

// ─── Request/Response Types ────────────────────────────────────────

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int        `json:"expires_in"`
	User         *auth.User `json:"user,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleLogin authenticates a user by email and password and issues an
// access token plus a refresh token. Failed attempts all return the same
// 401 so the response does not reveal which accounts exist.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}

	user, err := s.users.GetByEmail(r.Context(), auth.NormalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeUnauthorized(w, "invalid credentials")
			return
		}
		s.logger.Error("login lookup failed", "error", err)
		writeInternalError(w, "login failed")
		return
	}

	ok, err := auth.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		writeUnauthorized(w, "invalid credentials")
		return
	}

	if !user.IsActive {
		writeUnauthorized(w, "account is inactive")
		return
	}

	resp, err := s.issueTokens(r, user)
	if err != nil {
		s.logger.Error("token issue failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "login failed")
		return
	}
	resp.User = user

	s.auditLog("login", "session", "", user.ID, nil)
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh rotates a refresh token and issues a fresh token pair.
// Reuse of an already-consumed token revokes the whole session family,
// on the assumption that the token was stolen.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		writeBadRequest(w, "refresh_token is required")
		return
	}

	session, err := s.sessions.GetByTokenHash(r.Context(), auth.HashToken(req.RefreshToken))
	if err != nil {
		writeUnauthorized(w, "invalid refresh token")
		return
	}

	if session.Revoked {
		// Token reuse: invalidate every session descended from this one.
		if err := s.sessions.RevokeFamily(r.Context(), session.FamilyID); err != nil {
			s.logger.Error("family revocation failed", "family_id", session.FamilyID, "error", err)
		}
		s.logger.Warn("refresh token reuse detected", "user_id", session.UserID)
		writeUnauthorized(w, "refresh token has been revoked")
		return
	}

	if time.Now().After(session.ExpiresAt) {
		writeUnauthorized(w, "refresh token has expired")
		return
	}

	user, err := s.users.GetByID(r.Context(), session.UserID)
	if err != nil || !user.IsActive {
		writeUnauthorized(w, "account is no longer active")
		return
	}

	resp, err := s.rotateTokens(r, user, session)
	if err != nil {
		s.logger.Error("token rotation failed", "user_id", user.ID, "error", err)
		writeInternalError(w, "refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleLogout revokes the session for the presented refresh token.
// It always returns 204: logout with an unknown token is not an error.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if req.RefreshToken != "" {
		session, err := s.sessions.GetByTokenHash(r.Context(), auth.HashToken(req.RefreshToken))
		if err == nil {
			if err := s.sessions.Revoke(r.Context(), session.ID); err != nil {
				s.logger.Error("session revocation failed", "session_id", session.ID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusNoContent, nil)
}

// handleMe returns the authenticated caller's account and role.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r.Context())

	user, err := s.users.GetByID(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err, "failed to load account")
		return
	}

	var role *auth.Role
	if user.RoleID != "" {
		role, err = s.roles.GetByID(r.Context(), user.RoleID)
		if err != nil && !errors.Is(err, auth.ErrRoleNotFound) {
			s.logger.Error("role load failed", "role_id", user.RoleID, "error", err)
			writeInternalError(w, "failed to load role")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user": user,
		"role": role,
	})
}

// handleChangePassword changes the caller's own password after verifying
// the current one, and force-logs-out every other session.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.NewPassword) < minPasswordLength {
		writeBadRequest(w, "new password must be at least 8 characters")
		return
	}

	userID := currentUserID(r.Context())
	user, err := s.users.GetByID(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err, "failed to load account")
		return
	}

	ok, err := auth.VerifyPassword(req.CurrentPassword, user.PasswordHash)
	if err != nil || !ok {
		writeUnauthorized(w, "current password is incorrect")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		s.logger.Error("password hash failed", "error", err)
		writeInternalError(w, "failed to change password")
		return
	}

	if err := s.users.UpdatePassword(r.Context(), userID, hash); err != nil {
		writeDomainError(w, err, "failed to change password")
		return
	}

	// A changed password invalidates every stored refresh token.
	if err := s.sessions.RevokeAllForUser(r.Context(), userID); err != nil {
		s.logger.Error("session revocation after password change failed", "user_id", userID, "error", err)
	}

	s.auditLog("update", "user", userID, userID, map[string]any{"field": "password"})
	writeJSON(w, http.StatusNoContent, nil)
}

// ─── Token issue/rotation ──────────────────────────────────────────

// issueTokens generates an access token and a fresh refresh token
// session for the user. The session starts a new family.
func (s *Server) issueTokens(r *http.Request, user *auth.User) (*tokenResponse, error) {
	var role *auth.Role
	if user.RoleID != "" {
		loaded, err := s.roles.GetByID(r.Context(), user.RoleID)
		if err == nil {
			role = loaded
		}
	}

	accessTTL := s.secCfg.JWT.AccessTokenTTL
	access, err := auth.GenerateAccessToken(user, role, s.secCfg.JWT.Secret, accessTTL)
	if err != nil {
		return nil, err
	}
	if accessTTL <= 0 {
		accessTTL = 15
	}

	refresh, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	session := &auth.Session{
		UserID:     user.ID,
		TokenHash:  auth.HashToken(refresh),
		DeviceInfo: r.UserAgent(),
		ExpiresAt:  time.Now().Add(time.Duration(s.refreshTTLMinutes()) * time.Minute),
	}
	if err := s.sessions.Create(r.Context(), session); err != nil {
		return nil, err
	}

	return &tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    accessTTL * 60,
	}, nil
}

// rotateTokens consumes the old session and issues a new token pair in
// the same family.
func (s *Server) rotateTokens(r *http.Request, user *auth.User, old *auth.Session) (*tokenResponse, error) {
	var role *auth.Role
	if user.RoleID != "" {
		loaded, err := s.roles.GetByID(r.Context(), user.RoleID)
		if err == nil {
			role = loaded
		}
	}

	accessTTL := s.secCfg.JWT.AccessTokenTTL
	access, err := auth.GenerateAccessToken(user, role, s.secCfg.JWT.Secret, accessTTL)
	if err != nil {
		return nil, err
	}
	if accessTTL <= 0 {
		accessTTL = 15
	}

	refresh, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	next := &auth.Session{
		UserID:     user.ID,
		FamilyID:   old.FamilyID,
		TokenHash:  auth.HashToken(refresh),
		DeviceInfo: r.UserAgent(),
		ExpiresAt:  time.Now().Add(time.Duration(s.refreshTTLMinutes()) * time.Minute),
	}
	if err := s.sessions.Rotate(r.Context(), old.ID, next); err != nil {
		return nil, err
	}

	return &tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    accessTTL * 60,
	}, nil
}

// refreshTTLMinutes returns the configured refresh token TTL with a
// 24-hour fallback.
func (s *Server) refreshTTLMinutes() int {
	if s.secCfg.JWT.RefreshTokenTTL > 0 {
		return s.secCfg.JWT.RefreshTokenTTL
	}
	return 24 * 60
}

// ─── WebSocket tickets ─────────────────────────────────────────────

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
}

type ticketEntry struct {
	userID    string
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// handleWSTicket generates a single-use WebSocket authentication ticket
// bound to the caller. The client uses this ticket to authenticate the
// WebSocket connection without exposing the JWT in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	ticket := generateTicket()

	s.tickets.mu.Lock()
	s.tickets.tickets[ticket] = ticketEntry{
		userID:    currentUserID(r.Context()),
		expiresAt: time.Now().Add(ticketTTL),
	}
	s.tickets.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     ticket,
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// validateTicket checks if a ticket is valid and consumes it (single-use).
func (s *Server) validateTicket(ticket string) (ticketEntry, bool) {
	s.tickets.mu.Lock()
	defer s.tickets.mu.Unlock()

	entry, ok := s.tickets.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}

	// Remove ticket (single-use)
	delete(s.tickets.tickets, ticket)

	if time.Now().After(entry.expiresAt) {
		return ticketEntry{}, false
	}
	return entry, true
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// cleanExpiredTickets removes expired tickets from the store.
func (s *Server) cleanExpiredTickets() {
	s.tickets.mu.Lock()
	defer s.tickets.mu.Unlock()

	now := time.Now()
	for ticket, entry := range s.tickets.tickets {
		if now.After(entry.expiresAt) {
			delete(s.tickets.tickets, ticket)
		}
	}
}

// cleanTicketsLoop runs cleanExpiredTickets periodically until the context is cancelled.
func (s *Server) cleanTicketsLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanExpiredTickets()
		}
	}
}

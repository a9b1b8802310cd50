package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ravenholt/forgepanel/internal/adapter"
	"github.com/ravenholt/forgepanel/internal/auth"
	"github.com/ravenholt/forgepanel/internal/fleet"
	"github.com/ravenholt/forgepanel/internal/server"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeTimeout        = "operation_timeout"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeForbidden writes a 403 error response.
func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeValidation writes a 422 error response.
func writeValidation(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// domainStatus maps a sentinel error from the domain packages to an HTTP
// status and error code. Unknown errors map to 500/internal_error.
func domainStatus(err error) (int, string) {
	switch {
	// Not found
	case errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, auth.ErrRoleNotFound),
		errors.Is(err, auth.ErrServerNotFound),
		errors.Is(err, auth.ErrGrantNotFound),
		errors.Is(err, server.ErrServerNotFound):
		return http.StatusNotFound, ErrCodeNotFound

	// Conflicts with current state
	case errors.Is(err, auth.ErrEmailExists),
		errors.Is(err, auth.ErrRoleNameExists),
		errors.Is(err, auth.ErrRoleInUse),
		errors.Is(err, auth.ErrSystemRoleImmutable),
		errors.Is(err, auth.ErrGrantExists),
		errors.Is(err, auth.ErrOwnerRevoked),
		errors.Is(err, auth.ErrOwnerLevelChange),
		errors.Is(err, auth.ErrNotCurrentOwner),
		errors.Is(err, server.ErrServerExists),
		errors.Is(err, fleet.ErrServerRunning),
		errors.Is(err, adapter.ErrAlreadyRunning),
		errors.Is(err, adapter.ErrNotRunning),
		errors.Is(err, adapter.ErrUpdateInProgress),
		errors.Is(err, adapter.ErrUpdateWhileUp):
		return http.StatusConflict, ErrCodeConflict

	// Self-protection guards
	case errors.Is(err, auth.ErrSelfDelete),
		errors.Is(err, auth.ErrSelfDemotion),
		errors.Is(err, auth.ErrLastAdmin):
		return http.StatusConflict, ErrCodeConflict

	// Validation failures
	case errors.Is(err, auth.ErrSelfTransfer),
		errors.Is(err, server.ErrInvalidServer),
		errors.Is(err, server.ErrInvalidName),
		errors.Is(err, server.ErrInvalidSlug),
		errors.Is(err, server.ErrInvalidGameType),
		errors.Is(err, server.ErrInvalidPort),
		errors.Is(err, adapter.ErrUpdateUnsupported):
		return http.StatusUnprocessableEntity, ErrCodeValidation

	// The process was killed, but not gracefully
	case errors.Is(err, adapter.ErrStopTimeout):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	}

	return http.StatusInternalServerError, ErrCodeInternal
}

// writeDomainError maps a domain error to its HTTP representation. The
// internalMsg replaces the error text for unmapped errors so internal
// details never leak to clients.
func writeDomainError(w http.ResponseWriter, err error, internalMsg string) {
	status, code := domainStatus(err)
	if status == http.StatusInternalServerError {
		writeError(w, status, code, internalMsg)
		return
	}
	writeError(w, status, code, err.Error())
}

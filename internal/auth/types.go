package auth

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// emailPattern is a pragmatic format check: local part, @, domain with a dot.
// Full RFC 5322 validation is not attempted.
var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// maxEmailLength is the maximum allowed email length.
const maxEmailLength = 254

// IsValidEmail checks if an email address meets format requirements.
func IsValidEmail(email string) bool {
	return len(email) <= maxEmailLength && emailPattern.MatchString(email)
}

// NormalizeEmail lower-cases and trims an email address. Emails are unique
// case-insensitively, so every path into the users table goes through this.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// User represents an authenticated panel account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"` // never serialised
	RoleID       string    `json:"role_id,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role represents a named permission bundle assignable to users.
// System roles are created at bootstrap and cannot be renamed, deleted,
// or have their permission sets changed.
type Role struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Permissions PermissionSet `json:"permissions"`
	IsSystem    bool          `json:"is_system"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// AccessLevel is a per-server access tier, ordered
// viewer < operator < admin < owner.
type AccessLevel string

const (
	// LevelViewer can view server status, config, and console output.
	LevelViewer AccessLevel = "viewer"

	// LevelOperator can additionally start/stop/restart and send console
	// commands.
	LevelOperator AccessLevel = "operator"

	// LevelAdmin can additionally edit server config, run updates, and
	// manage non-owner access grants.
	LevelAdmin AccessLevel = "admin"

	// LevelOwner has full control including deletion and ownership
	// transfer. Every server with any grants has exactly one owner.
	LevelOwner AccessLevel = "owner"
)

// accessLevelRank orders access levels for comparison.
var accessLevelRank = map[AccessLevel]int{
	LevelViewer:   1,
	LevelOperator: 2,
	LevelAdmin:    3,
	LevelOwner:    4,
}

// IsValidAccessLevel returns true if the level is a known access level.
func IsValidAccessLevel(l AccessLevel) bool {
	_, ok := accessLevelRank[l]
	return ok
}

// AtLeast returns true if level l meets or exceeds the required level.
// Unknown levels never satisfy any requirement.
func (l AccessLevel) AtLeast(required AccessLevel) bool {
	lr, ok := accessLevelRank[l]
	if !ok {
		return false
	}
	rr, ok := accessLevelRank[required]
	if !ok {
		return false
	}
	return lr >= rr
}

// ServerAccess represents a user's access grant to a specific server.
type ServerAccess struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	ServerID  string      `json:"server_id"`
	Level     AccessLevel `json:"level"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Session represents a stored refresh token for session management.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	FamilyID   string    `json:"family_id"`
	TokenHash  string    `json:"-"` // never serialised
	DeviceInfo string    `json:"device_info,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	Revoked    bool      `json:"revoked"`
	CreatedAt  time.Time `json:"created_at"`
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user account is inactive")
	ErrEmailExists        = errors.New("email already registered")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenReuse         = errors.New("refresh token reuse detected")
	ErrForbidden          = errors.New("insufficient permissions")

	ErrRoleNotFound        = errors.New("role not found")
	ErrRoleNameExists      = errors.New("role name already exists")
	ErrRoleInUse           = errors.New("role is assigned to users")
	ErrSystemRoleImmutable = errors.New("system role cannot be modified")

	ErrServerNotFound   = errors.New("server not found")
	ErrGrantNotFound    = errors.New("access grant not found")
	ErrGrantExists      = errors.New("access grant already exists for user and server")
	ErrOwnerRevoked     = errors.New("owner access cannot be revoked, transfer ownership first")
	ErrOwnerLevelChange = errors.New("owner level can only change via ownership transfer")
	ErrNotCurrentOwner  = errors.New("user is not the current owner of the server")
	ErrSelfTransfer     = errors.New("cannot transfer ownership to the current owner")

	ErrSelfDelete   = errors.New("cannot delete own account")
	ErrSelfDemotion = errors.New("cannot remove own admin access")
	ErrLastAdmin    = errors.New("cannot remove the last panel admin")
)

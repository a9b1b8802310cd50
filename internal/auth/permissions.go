package auth

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Permission represents a named panel-wide capability.
type Permission string

// Permission constants.
const (
	// PermPanelAdmin grants unrestricted panel control, including every
	// server regardless of access grants.
	PermPanelAdmin Permission = "panel.admin"

	PermUsersManage   Permission = "users.manage"
	PermRolesManage   Permission = "roles.manage"
	PermServersCreate Permission = "servers.create"
	PermAuditView     Permission = "audit.view"
)

// allPermissions is the complete permission vocabulary, used for
// validation and the seeded Admin role.
var allPermissions = []Permission{
	PermPanelAdmin,
	PermUsersManage,
	PermRolesManage,
	PermServersCreate,
	PermAuditView,
}

// IsValidPermission returns true if the permission token is known.
func IsValidPermission(p Permission) bool {
	for _, v := range allPermissions {
		if p == v {
			return true
		}
	}
	return false
}

// PermissionSet is a typed set of permission tokens. It is stored as a
// JSON array in the roles table and parsed at the repository boundary.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// FullPermissionSet returns a set containing every known permission.
func FullPermissionSet() PermissionSet {
	return NewPermissionSet(allPermissions...)
}

// Has returns true if the set contains the permission.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// List returns the permissions in sorted order.
func (s PermissionSet) List() []Permission {
	perms := make([]Permission, 0, len(s))
	for p := range s {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

// UnmarshalJSON decodes a JSON array of permission tokens.
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var perms []Permission
	if err := json.Unmarshal(data, &perms); err != nil {
		return fmt.Errorf("parsing permission set: %w", err)
	}
	*s = NewPermissionSet(perms...)
	return nil
}

// HasPanelPermission returns true if the role's permission set contains
// the permission. A nil role (user with no role assigned) has no panel
// permissions.
func HasPanelPermission(role *Role, perm Permission) bool {
	if role == nil {
		return false
	}
	return role.Permissions.Has(perm)
}

// HasServerPermission returns true if the access grant meets the required
// level. A nil access (no grant for the user/server pair) never satisfies
// any requirement.
func HasServerPermission(access *ServerAccess, required AccessLevel) bool {
	if access == nil {
		return false
	}
	return access.Level.AtLeast(required)
}

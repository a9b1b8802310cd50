package auth

import (
	"context"
	"errors"
	"fmt"
)

// Authorizer answers permission questions by loading persisted role and
// grant state and delegating to the pure checks. It holds no cache:
// every call reflects the database, so a revoked grant takes effect on
// the next request even if an issued token still carries the old
// permission snapshot.
type Authorizer struct {
	users  UserRepository
	roles  RoleRepository
	access AccessRepository
}

// NewAuthorizer creates an Authorizer over the given repositories.
func NewAuthorizer(users UserRepository, roles RoleRepository, access AccessRepository) *Authorizer {
	return &Authorizer{users: users, roles: roles, access: access}
}

// HasPanelPermission reports whether the user's assigned role grants the
// panel-wide permission. Users with no role have no panel permissions.
func (a *Authorizer) HasPanelPermission(ctx context.Context, userID string, perm Permission) (bool, error) {
	role, err := a.roleForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return HasPanelPermission(role, perm), nil
}

// HasServerPermission reports whether the user holds an access grant for
// the server at or above the required level. Panel admins pass without a
// grant.
func (a *Authorizer) HasServerPermission(ctx context.Context, userID, serverID string, required AccessLevel) (bool, error) {
	isAdmin, err := a.HasPanelPermission(ctx, userID, PermPanelAdmin)
	if err != nil {
		return false, err
	}
	if isAdmin {
		return true, nil
	}

	access, err := a.access.GetByUserAndServer(ctx, userID, serverID)
	if err != nil {
		if errors.Is(err, ErrGrantNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("loading access grant: %w", err)
	}
	return HasServerPermission(access, required), nil
}

// IsOwnerOrPanelAdmin reports whether the user is a panel admin or holds
// the owner entry for the server. The panel-admin check short-circuits
// before the grant lookup.
func (a *Authorizer) IsOwnerOrPanelAdmin(ctx context.Context, userID, serverID string) (bool, error) {
	isAdmin, err := a.HasPanelPermission(ctx, userID, PermPanelAdmin)
	if err != nil {
		return false, err
	}
	if isAdmin {
		return true, nil
	}

	access, err := a.access.GetByUserAndServer(ctx, userID, serverID)
	if err != nil {
		if errors.Is(err, ErrGrantNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("loading access grant: %w", err)
	}
	return access.Level == LevelOwner, nil
}

// roleForUser loads the user's assigned role, or nil if the user has no
// role.
func (a *Authorizer) roleForUser(ctx context.Context, userID string) (*Role, error) {
	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if user.RoleID == "" {
		return nil, nil
	}

	role, err := a.roles.GetByID(ctx, user.RoleID)
	if err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			// Dangling role reference behaves like no role.
			return nil, nil
		}
		return nil, fmt.Errorf("loading role: %w", err)
	}
	return role, nil
}

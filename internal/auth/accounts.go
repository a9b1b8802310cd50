package auth

import (
	"context"
	"errors"
	"fmt"
)

// Accounts wraps user mutations with the self-protection guards:
// nobody deletes themselves, nobody strips their own panel-admin
// permission, and the last active panel admin can never be removed,
// demoted, or deactivated.
type Accounts struct {
	users  UserRepository
	roles  RoleRepository
	logger Logger
}

// NewAccounts creates an Accounts service over the given repositories.
func NewAccounts(users UserRepository, roles RoleRepository, logger Logger) *Accounts {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Accounts{users: users, roles: roles, logger: logger}
}

// Create validates and inserts a new user account.
func (s *Accounts) Create(ctx context.Context, user *User) error {
	user.Email = NormalizeEmail(user.Email)
	if !IsValidEmail(user.Email) {
		return fmt.Errorf("invalid email %q", user.Email)
	}
	if user.RoleID != "" {
		if _, err := s.roles.GetByID(ctx, user.RoleID); err != nil {
			return err
		}
	}
	return s.users.Create(ctx, user)
}

// Update applies changes to a user account, enforcing the guards when
// the actor edits their own account or touches an admin-granting role.
//
// actorID is the authenticated user performing the change.
func (s *Accounts) Update(ctx context.Context, actorID string, user *User) error {
	existing, err := s.users.GetByID(ctx, user.ID)
	if err != nil {
		return err
	}

	if user.RoleID != "" && user.RoleID != existing.RoleID {
		if _, err := s.roles.GetByID(ctx, user.RoleID); err != nil {
			return err
		}
	}

	losesAdmin, err := s.losesPanelAdmin(ctx, existing, user)
	if err != nil {
		return err
	}

	if losesAdmin {
		if actorID == user.ID {
			return ErrSelfDemotion
		}
		if err := s.checkNotLastAdmin(ctx); err != nil {
			return err
		}
	}

	return s.users.Update(ctx, user)
}

// Delete removes a user account, refusing self-deletion and removal of
// the last panel admin.
func (s *Accounts) Delete(ctx context.Context, actorID, userID string) error {
	if actorID == userID {
		return ErrSelfDelete
	}

	existing, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	hadAdmin, err := s.grantsPanelAdmin(ctx, existing.RoleID)
	if err != nil {
		return err
	}
	if hadAdmin && existing.IsActive {
		if err := s.checkNotLastAdmin(ctx); err != nil {
			return err
		}
	}

	if err := s.users.Delete(ctx, userID); err != nil {
		return err
	}

	s.logger.Info("user account deleted", "user_id", userID, "deleted_by", actorID)
	return nil
}

// losesPanelAdmin reports whether the proposed update would cost the
// user the panel.admin permission (role change or deactivation).
func (s *Accounts) losesPanelAdmin(ctx context.Context, existing, updated *User) (bool, error) {
	hadAdmin, err := s.grantsPanelAdmin(ctx, existing.RoleID)
	if err != nil {
		return false, err
	}
	if !hadAdmin || !existing.IsActive {
		return false, nil
	}

	if !updated.IsActive {
		return true, nil
	}

	hasAdmin, err := s.grantsPanelAdmin(ctx, updated.RoleID)
	if err != nil {
		return false, err
	}
	return !hasAdmin, nil
}

// grantsPanelAdmin reports whether a role ID grants panel.admin. An
// empty or dangling role reference grants nothing.
func (s *Accounts) grantsPanelAdmin(ctx context.Context, roleID string) (bool, error) {
	if roleID == "" {
		return false, nil
	}
	role, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			return false, nil
		}
		return false, err
	}
	return role.Permissions.Has(PermPanelAdmin), nil
}

// checkNotLastAdmin fails with ErrLastAdmin if at most one active user
// currently holds panel.admin.
func (s *Accounts) checkNotLastAdmin(ctx context.Context) error {
	count, err := s.users.CountActiveWithPermission(ctx, PermPanelAdmin)
	if err != nil {
		return err
	}
	if count <= 1 {
		return ErrLastAdmin
	}
	return nil
}

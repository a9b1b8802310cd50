package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RoleRepository defines the interface for role persistence.
type RoleRepository interface {
	Create(ctx context.Context, role *Role) error
	GetByID(ctx context.Context, id string) (*Role, error)
	GetByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]Role, error)
	Update(ctx context.Context, role *Role) error
	Delete(ctx context.Context, id string) error
	CountUsersWithRole(ctx context.Context, roleID string) (int, error)
}

// SQLiteRoleRepository implements RoleRepository using SQLite.
type SQLiteRoleRepository struct {
	db     *sql.DB
	logger Logger
}

// NewRoleRepository creates a new SQLite-backed role repository.
// The logger records permission-set parse anomalies; pass nil to discard.
func NewRoleRepository(db *sql.DB, logger Logger) *SQLiteRoleRepository {
	if logger == nil {
		logger = noopLogger{}
	}
	return &SQLiteRoleRepository{db: db, logger: logger}
}

// Create inserts a new role. The ID is generated if empty.
// Roles created through this path are never system roles.
func (r *SQLiteRoleRepository) Create(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = "rol-" + uuid.NewString()[:8]
	}
	role.IsSystem = false

	permsJSON, err := marshalPermissions(role.Permissions)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	role.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	role.UpdatedAt = role.CreatedAt

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO roles (id, name, description, permissions, is_system, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		role.ID, role.Name, nullString(role.Description), permsJSON, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRoleNameExists
		}
		return fmt.Errorf("creating role: %w", err)
	}

	return nil
}

// GetByID retrieves a role by its unique ID.
func (r *SQLiteRoleRepository) GetByID(ctx context.Context, id string) (*Role, error) {
	return r.getRole(ctx,
		"SELECT id, name, description, permissions, is_system, created_at, updated_at FROM roles WHERE id = ?", id)
}

// GetByName retrieves a role by its unique name (case-sensitive).
func (r *SQLiteRoleRepository) GetByName(ctx context.Context, name string) (*Role, error) {
	return r.getRole(ctx,
		"SELECT id, name, description, permissions, is_system, created_at, updated_at FROM roles WHERE name = ?", name)
}

// List returns all roles ordered by creation date.
func (r *SQLiteRoleRepository) List(ctx context.Context) ([]Role, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, description, permissions, is_system, created_at, updated_at FROM roles ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := r.scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating roles: %w", err)
	}

	if roles == nil {
		roles = []Role{}
	}
	return roles, nil
}

// Update modifies a role's mutable fields. For system roles only the
// description may change; renaming or altering the permission set returns
// ErrSystemRoleImmutable.
func (r *SQLiteRoleRepository) Update(ctx context.Context, role *Role) error {
	existing, err := r.GetByID(ctx, role.ID)
	if err != nil {
		return err
	}

	if existing.IsSystem {
		if role.Name != existing.Name || !permissionSetsEqual(role.Permissions, existing.Permissions) {
			return ErrSystemRoleImmutable
		}
	}

	permsJSON, err := marshalPermissions(role.Permissions)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	role.UpdatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	result, err := r.db.ExecContext(ctx,
		`UPDATE roles SET name = ?, description = ?, permissions = ?, updated_at = ? WHERE id = ?`,
		role.Name, nullString(role.Description), permsJSON, now, role.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRoleNameExists
		}
		return fmt.Errorf("updating role: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// Delete removes a role by ID. System roles and roles still assigned to
// users are refused.
func (r *SQLiteRoleRepository) Delete(ctx context.Context, id string) error {
	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return ErrSystemRoleImmutable
	}

	count, err := r.CountUsersWithRole(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrRoleInUse
	}

	result, err := r.db.ExecContext(ctx, "DELETE FROM roles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// CountUsersWithRole returns the number of users assigned to a role.
func (r *SQLiteRoleRepository) CountUsersWithRole(ctx context.Context, roleID string) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE role_id = ?", roleID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting users with role: %w", err)
	}
	return count, nil
}

// getRole executes a query and scans a single role result.
func (r *SQLiteRoleRepository) getRole(ctx context.Context, query string, args ...any) (*Role, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	return r.scanRole(row)
}

// scanRole scans a role from any scanner (Row or Rows).
// A corrupted permissions column degrades to an empty set and is logged
// rather than failing the read.
func (r *SQLiteRoleRepository) scanRole(s scanner) (*Role, error) {
	var role Role
	var description sql.NullString
	var permsJSON string
	var isSystem int
	var createdAt, updatedAt string

	err := s.Scan(&role.ID, &role.Name, &description, &permsJSON,
		&isSystem, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("scanning role: %w", err)
	}

	role.IsSystem = isSystem != 0
	if description.Valid {
		role.Description = description.String
	}

	var perms PermissionSet
	if err := json.Unmarshal([]byte(permsJSON), &perms); err != nil {
		r.logger.Warn("role has unparseable permission set, treating as empty",
			"role_id", role.ID, "error", err)
		perms = PermissionSet{}
	}
	role.Permissions = perms

	role.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	role.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &role, nil
}

// marshalPermissions encodes a permission set for storage, treating nil
// as the empty set.
func marshalPermissions(perms PermissionSet) (string, error) {
	if perms == nil {
		perms = PermissionSet{}
	}
	b, err := json.Marshal(perms)
	if err != nil {
		return "", fmt.Errorf("marshalling permission set: %w", err)
	}
	return string(b), nil
}

// permissionSetsEqual compares two permission sets for equality.
func permissionSetsEqual(a, b PermissionSet) bool {
	if len(a) != len(b) {
		return false
	}
	for p := range a {
		if !b.Has(p) {
			return false
		}
	}
	return true
}

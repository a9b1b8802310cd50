package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// seedPasswordBytes is the number of random bytes for the seed admin password.
const seedPasswordBytes = 16

// System role names created at bootstrap.
const (
	RoleNameAdmin     = "Admin"
	RoleNameModerator = "Moderator"
	RoleNameUser      = "User"
)

// systemRoles describes the three roles seeded on every boot (idempotent).
var systemRoles = []Role{
	{
		ID:          "rol-admin",
		Name:        RoleNameAdmin,
		Description: "Full panel control",
		Permissions: FullPermissionSet(),
	},
	{
		ID:          "rol-moderator",
		Name:        RoleNameModerator,
		Description: "Can create servers and review the audit trail",
		Permissions: NewPermissionSet(PermServersCreate, PermAuditView),
	},
	{
		ID:          "rol-user",
		Name:        RoleNameUser,
		Description: "Access only to explicitly granted servers",
		Permissions: PermissionSet{},
	},
}

// SeedRoles creates the three system roles if they don't exist yet.
// Existing roles are left untouched, so operator-edited descriptions
// survive restarts.
func SeedRoles(ctx context.Context, db *sql.DB, logger Logger) error {
	if logger == nil {
		logger = noopLogger{}
	}

	for _, role := range systemRoles {
		var one int
		err := db.QueryRowContext(ctx, "SELECT 1 FROM roles WHERE id = ?", role.ID).Scan(&one)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking system role %s: %w", role.ID, err)
		}

		permsJSON, err := marshalPermissions(role.Permissions)
		if err != nil {
			return err
		}

		now := time.Now().UTC().Format(time.RFC3339)
		if _, err := db.ExecContext(ctx,
			`INSERT INTO roles (id, name, description, permissions, is_system, created_at, updated_at)
			 VALUES (?, ?, ?, ?, 1, ?, ?)`,
			role.ID, role.Name, role.Description, permsJSON, now, now,
		); err != nil {
			return fmt.Errorf("creating system role %s: %w", role.Name, err)
		}

		logger.Info("system role created", "role", role.Name)
	}

	return nil
}

// SeedAdmin creates the initial admin account on first boot if no users exist.
// The generated password is returned for printing — it must be changed immediately.
// Returns the generated password (empty string if seeding was skipped).
func SeedAdmin(ctx context.Context, userRepo UserRepository, logger Logger) (string, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	count, err := userRepo.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking user count: %w", err)
	}

	if count > 0 {
		logger.Info("users exist, skipping admin seed")
		return "", nil
	}

	// Generate a random password
	passwordBytes := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(passwordBytes); err != nil {
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(passwordBytes)

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &User{
		Email:        "admin@forgepanel.local",
		DisplayName:  "Panel Admin",
		PasswordHash: hash,
		RoleID:       "rol-admin",
		IsActive:     true,
	}

	if err := userRepo.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	logger.Warn("seed admin account created",
		"email", admin.Email,
		"password", password,
		"action_required", "change this password immediately",
	)

	return password, nil
}

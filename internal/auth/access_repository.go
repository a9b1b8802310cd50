package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AccessRepository defines the interface for per-server access grant
// persistence. Every server with at least one grant has exactly one
// owner entry; each mutation enforces that invariant.
type AccessRepository interface {
	Grant(ctx context.Context, userID, serverID string, level AccessLevel) (*ServerAccess, error)
	GrantOwnerOnCreate(ctx context.Context, userID, serverID string) (*ServerAccess, error)
	Revoke(ctx context.Context, accessID string) error
	UpdateLevel(ctx context.Context, accessID string, level AccessLevel) error
	TransferOwnership(ctx context.Context, serverID, newOwnerID, currentOwnerID string) error
	GetByID(ctx context.Context, accessID string) (*ServerAccess, error)
	GetByUserAndServer(ctx context.Context, userID, serverID string) (*ServerAccess, error)
	ListByServer(ctx context.Context, serverID string) ([]ServerAccess, error)
	ListByUser(ctx context.Context, userID string) ([]ServerAccess, error)
}

// SQLiteAccessRepository implements AccessRepository using SQLite.
// The single-writer connection pool makes each transaction fully
// isolated, which the ownership transfer relies on.
type SQLiteAccessRepository struct {
	db *sql.DB
}

// NewAccessRepository creates a new SQLite-backed access repository.
func NewAccessRepository(db *sql.DB) *SQLiteAccessRepository {
	return &SQLiteAccessRepository{db: db}
}

// Grant creates an access entry for a user on a server. Owner-level
// grants are refused here: ownership is seeded at server creation and
// moves only through TransferOwnership.
func (r *SQLiteAccessRepository) Grant(ctx context.Context, userID, serverID string, level AccessLevel) (*ServerAccess, error) {
	if !IsValidAccessLevel(level) {
		return nil, fmt.Errorf("invalid access level %q", level)
	}
	if level == LevelOwner {
		return nil, ErrOwnerLevelChange
	}

	if err := r.checkUserAndServer(ctx, r.db, userID, serverID); err != nil {
		return nil, err
	}

	return r.insertGrant(ctx, userID, serverID, level)
}

// GrantOwnerOnCreate seeds the sole initial owner entry at server
// creation. It fails if any entry already exists for the pair.
func (r *SQLiteAccessRepository) GrantOwnerOnCreate(ctx context.Context, userID, serverID string) (*ServerAccess, error) {
	if err := r.checkUserAndServer(ctx, r.db, userID, serverID); err != nil {
		return nil, err
	}
	return r.insertGrant(ctx, userID, serverID, LevelOwner)
}

// insertGrant inserts a new access row, mapping duplicate pairs to
// ErrGrantExists.
func (r *SQLiteAccessRepository) insertGrant(ctx context.Context, userID, serverID string, level AccessLevel) (*ServerAccess, error) {
	access := &ServerAccess{
		ID:       "acc-" + uuid.NewString()[:8],
		UserID:   userID,
		ServerID: serverID,
		Level:    level,
	}

	now := time.Now().UTC().Format(time.RFC3339)
	access.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	access.UpdatedAt = access.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO server_access (id, user_id, server_id, level, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		access.ID, userID, serverID, string(level), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrGrantExists
		}
		return nil, fmt.Errorf("creating access grant: %w", err)
	}

	return access, nil
}

// Revoke removes an access entry. Owner entries are refused: an owner
// leaves a server only via ownership transfer. The level guard lives in
// the DELETE itself so a concurrent transfer promoting the row to owner
// can never race it out from under the sole owner.
func (r *SQLiteAccessRepository) Revoke(ctx context.Context, accessID string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM server_access WHERE id = ? AND level != ?",
		accessID, string(LevelOwner),
	)
	if err != nil {
		return fmt.Errorf("revoking access grant: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		// Either the grant is gone or the guard skipped an owner row.
		access, err := r.GetByID(ctx, accessID)
		if err != nil {
			return err
		}
		if access.Level == LevelOwner {
			return ErrOwnerRevoked
		}
		return ErrGrantNotFound
	}
	return nil
}

// UpdateLevel moves an entry among the non-owner levels. Changing to or
// from owner is refused.
func (r *SQLiteAccessRepository) UpdateLevel(ctx context.Context, accessID string, level AccessLevel) error {
	if !IsValidAccessLevel(level) {
		return fmt.Errorf("invalid access level %q", level)
	}
	if level == LevelOwner {
		return ErrOwnerLevelChange
	}

	// The level guard is part of the UPDATE: an owner row can never be
	// downgraded here, even if a concurrent transfer promoted it after
	// the caller last looked at it.
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"UPDATE server_access SET level = ?, updated_at = ? WHERE id = ? AND level != ?",
		string(level), now, accessID, string(LevelOwner),
	)
	if err != nil {
		return fmt.Errorf("updating access level: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		access, err := r.GetByID(ctx, accessID)
		if err != nil {
			return err
		}
		if access.Level == LevelOwner {
			return ErrOwnerLevelChange
		}
		return ErrGrantNotFound
	}
	return nil
}

// TransferOwnership atomically moves ownership of a server. Inside one
// transaction: the current owner is verified, every owner row for the
// server is downgraded to admin (a defensive sweep, so stale duplicate
// owners collapse too), and the new owner's row is created at owner or
// upgraded in place.
func (r *SQLiteAccessRepository) TransferOwnership(ctx context.Context, serverID, newOwnerID, currentOwnerID string) error {
	if newOwnerID == currentOwnerID {
		return ErrSelfTransfer
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transfer transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	if err := r.checkUserAndServer(ctx, tx, newOwnerID, serverID); err != nil {
		return err
	}
	if err := r.checkUserExists(ctx, tx, currentOwnerID); err != nil {
		return err
	}

	// Verify the claimed current owner actually holds the owner entry.
	var currentLevel string
	err = tx.QueryRowContext(ctx,
		"SELECT level FROM server_access WHERE user_id = ? AND server_id = ?",
		currentOwnerID, serverID,
	).Scan(&currentLevel)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && AccessLevel(currentLevel) != LevelOwner) {
		return ErrNotCurrentOwner
	}
	if err != nil {
		return fmt.Errorf("checking current owner: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)

	// Downgrade every owner row for the server.
	if _, err := tx.ExecContext(ctx,
		"UPDATE server_access SET level = ?, updated_at = ? WHERE server_id = ? AND level = ?",
		string(LevelAdmin), now, serverID, string(LevelOwner),
	); err != nil {
		return fmt.Errorf("downgrading previous owner: %w", err)
	}

	// Promote or insert the new owner.
	result, err := tx.ExecContext(ctx,
		"UPDATE server_access SET level = ?, updated_at = ? WHERE user_id = ? AND server_id = ?",
		string(LevelOwner), now, newOwnerID, serverID,
	)
	if err != nil {
		return fmt.Errorf("promoting new owner: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO server_access (id, user_id, server_id, level, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			"acc-"+uuid.NewString()[:8], newOwnerID, serverID, string(LevelOwner), now, now,
		); err != nil {
			return fmt.Errorf("inserting new owner: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing ownership transfer: %w", err)
	}
	return nil
}

// GetByID retrieves an access entry by its ID.
func (r *SQLiteAccessRepository) GetByID(ctx context.Context, accessID string) (*ServerAccess, error) {
	return r.getAccess(ctx,
		"SELECT id, user_id, server_id, level, created_at, updated_at FROM server_access WHERE id = ?", accessID)
}

// GetByUserAndServer retrieves the access entry for a user/server pair.
func (r *SQLiteAccessRepository) GetByUserAndServer(ctx context.Context, userID, serverID string) (*ServerAccess, error) {
	return r.getAccess(ctx,
		"SELECT id, user_id, server_id, level, created_at, updated_at FROM server_access WHERE user_id = ? AND server_id = ?",
		userID, serverID)
}

// ListByServer returns all access entries for a server, owner first.
func (r *SQLiteAccessRepository) ListByServer(ctx context.Context, serverID string) ([]ServerAccess, error) {
	return r.listAccess(ctx,
		`SELECT id, user_id, server_id, level, created_at, updated_at FROM server_access
		 WHERE server_id = ?
		 ORDER BY CASE level WHEN 'owner' THEN 0 WHEN 'admin' THEN 1 WHEN 'operator' THEN 2 ELSE 3 END, created_at ASC`,
		serverID)
}

// ListByUser returns all access entries for a user ordered by creation.
func (r *SQLiteAccessRepository) ListByUser(ctx context.Context, userID string) ([]ServerAccess, error) {
	return r.listAccess(ctx,
		"SELECT id, user_id, server_id, level, created_at, updated_at FROM server_access WHERE user_id = ? ORDER BY created_at ASC",
		userID)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// checkUserAndServer verifies both sides of a grant exist.
func (r *SQLiteAccessRepository) checkUserAndServer(ctx context.Context, q querier, userID, serverID string) error {
	if err := r.checkUserExists(ctx, q, userID); err != nil {
		return err
	}

	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM servers WHERE id = ?", serverID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrServerNotFound
	}
	if err != nil {
		return fmt.Errorf("checking server exists: %w", err)
	}
	return nil
}

// checkUserExists verifies a user row exists.
func (r *SQLiteAccessRepository) checkUserExists(ctx context.Context, q querier, userID string) error {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM users WHERE id = ?", userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("checking user exists: %w", err)
	}
	return nil
}

// getAccess executes a query and scans a single access result.
func (r *SQLiteAccessRepository) getAccess(ctx context.Context, query string, args ...any) (*ServerAccess, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	return scanAccessFrom(row)
}

// listAccess executes a query and scans all access results.
func (r *SQLiteAccessRepository) listAccess(ctx context.Context, query string, args ...any) ([]ServerAccess, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing access grants: %w", err)
	}
	defer rows.Close()

	var access []ServerAccess
	for rows.Next() {
		a, err := scanAccessFrom(rows)
		if err != nil {
			return nil, err
		}
		access = append(access, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating access grants: %w", err)
	}

	if access == nil {
		access = []ServerAccess{}
	}
	return access, nil
}

// scanAccessFrom scans an access entry from any scanner (Row or Rows).
func scanAccessFrom(s scanner) (*ServerAccess, error) {
	var a ServerAccess
	var level string
	var createdAt, updatedAt string

	err := s.Scan(&a.ID, &a.UserID, &a.ServerID, &level, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGrantNotFound
		}
		return nil, fmt.Errorf("scanning access grant: %w", err)
	}

	a.Level = AccessLevel(level)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &a, nil
}

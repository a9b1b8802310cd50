package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for server record persistence.
type Repository interface {
	// GetByID retrieves a server by its unique identifier.
	// Returns ErrServerNotFound if the server does not exist.
	GetByID(ctx context.Context, id string) (*Server, error)

	// GetBySlug retrieves a server by its URL slug.
	GetBySlug(ctx context.Context, slug string) (*Server, error)

	// List retrieves all servers ordered by name.
	List(ctx context.Context) ([]Server, error)

	// Create validates and inserts a new server record, generating the
	// ID and slug if empty. Returns ErrServerExists on a slug collision.
	Create(ctx context.Context, server *Server) error

	// Update modifies an existing server record.
	// Returns ErrServerNotFound if the server does not exist.
	Update(ctx context.Context, server *Server) error

	// Delete removes a server record. Access grants cascade at the
	// schema level.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewRepository creates a new SQLite-backed server repository.
func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const serverColumns = `id, name, slug, game_type, working_dir, launch_config, port, created_by, created_at, updated_at`

// GetByID retrieves a server by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Server, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+serverColumns+" FROM servers WHERE id = ?", id)
	return scanServer(row)
}

// GetBySlug retrieves a server by its URL slug.
func (r *SQLiteRepository) GetBySlug(ctx context.Context, slug string) (*Server, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+serverColumns+" FROM servers WHERE slug = ?", slug)
	return scanServer(row)
}

// List retrieves all servers ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Server, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+serverColumns+" FROM servers ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying servers: %w", err)
	}
	defer rows.Close()

	var servers []Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating servers: %w", err)
	}

	if servers == nil {
		servers = []Server{}
	}
	return servers, nil
}

// Create validates and inserts a new server record.
func (r *SQLiteRepository) Create(ctx context.Context, server *Server) error {
	if server.Slug == "" {
		server.Slug = GenerateSlug(server.Name)
	}
	if err := Validate(server); err != nil {
		return err
	}

	if server.ID == "" {
		server.ID = "srv-" + uuid.NewString()[:8]
	}

	configJSON, err := marshalLaunchConfig(server.LaunchConfig)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	server.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	server.UpdatedAt = server.CreatedAt

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO servers (id, name, slug, game_type, working_dir, launch_config, port, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		server.ID, server.Name, server.Slug, string(server.GameType),
		server.WorkingDir, configJSON, nullInt(server.Port),
		nullString(server.CreatedBy), now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrServerExists
		}
		return fmt.Errorf("inserting server: %w", err)
	}

	return nil
}

// Update modifies an existing server record. The game type and working
// directory are mutable here; the fleet layer refuses such edits while
// the server process is running.
func (r *SQLiteRepository) Update(ctx context.Context, server *Server) error {
	if err := Validate(server); err != nil {
		return err
	}

	configJSON, err := marshalLaunchConfig(server.LaunchConfig)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	server.UpdatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	result, err := r.db.ExecContext(ctx,
		`UPDATE servers
		 SET name = ?, slug = ?, game_type = ?, working_dir = ?, launch_config = ?, port = ?, updated_at = ?
		 WHERE id = ?`,
		server.Name, server.Slug, string(server.GameType),
		server.WorkingDir, configJSON, nullInt(server.Port), now, server.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrServerExists
		}
		return fmt.Errorf("updating server: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrServerNotFound
	}

	return nil
}

// Delete removes a server record.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM servers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting server: %w", err)
	}

	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrServerNotFound
	}

	return nil
}

// marshalLaunchConfig serialises the launch config, treating nil as an
// empty document.
func marshalLaunchConfig(cfg LaunchConfig) (string, error) {
	if cfg == nil {
		return "{}", nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshalling launch config: %w", err)
	}
	return string(b), nil
}

// scanner is an interface that sql.Row and sql.Rows both implement.
type scanner interface {
	Scan(dest ...any) error
}

// scanServer scans a server from any scanner (Row or Rows).
func scanServer(sc scanner) (*Server, error) {
	var s Server
	var gameType, configJSON string
	var port sql.NullInt64
	var createdBy sql.NullString
	var createdAt, updatedAt string

	err := sc.Scan(&s.ID, &s.Name, &s.Slug, &gameType, &s.WorkingDir,
		&configJSON, &port, &createdBy, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrServerNotFound
		}
		return nil, fmt.Errorf("scanning server: %w", err)
	}

	s.GameType = GameType(gameType)
	if port.Valid {
		s.Port = int(port.Int64)
	}
	if createdBy.Valid {
		s.CreatedBy = createdBy.String
	}

	if err := json.Unmarshal([]byte(configJSON), &s.LaunchConfig); err != nil {
		return nil, fmt.Errorf("unmarshalling launch config: %w", err)
	}

	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &s, nil
}

// nullString converts an empty string to NULL for storage.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullInt converts a zero port to NULL for storage.
func nullInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}

// isUniqueViolation checks if an error is a SQLite unique constraint violation.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}

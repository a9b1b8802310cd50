package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ravenholt/forgepanel/internal/adapter"
	"github.com/ravenholt/forgepanel/internal/audit"
	"github.com/ravenholt/forgepanel/internal/auth"
	"github.com/ravenholt/forgepanel/internal/fleet"
	"github.com/ravenholt/forgepanel/internal/infrastructure/config"
	"github.com/ravenholt/forgepanel/internal/infrastructure/logging"
	"github.com/ravenholt/forgepanel/internal/server"
)

// testJWTSecret signs tokens in tests.
const testJWTSecret = "test-secret"

// testPassword is the password every seeded test user gets.
const testPassword = "correct-horse-battery"

// testDB creates a temporary SQLite database with the full panel schema.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "api-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	migrationSQL := `
		CREATE TABLE roles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			permissions TEXT NOT NULL DEFAULT '[]',
			is_system INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;

		CREATE TABLE users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			role_id TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_by TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			FOREIGN KEY (role_id) REFERENCES roles(id) ON DELETE RESTRICT,
			FOREIGN KEY (created_by) REFERENCES users(id) ON DELETE SET NULL
		) STRICT;

		CREATE TABLE sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			family_id TEXT NOT NULL,
			token_hash TEXT NOT NULL,
			device_info TEXT,
			expires_at TEXT NOT NULL,
			revoked INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		) STRICT;

		CREATE TABLE servers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			game_type TEXT NOT NULL,
			working_dir TEXT NOT NULL,
			launch_config TEXT NOT NULL DEFAULT '{}',
			port INTEGER,
			created_by TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			FOREIGN KEY (created_by) REFERENCES users(id) ON DELETE SET NULL
		) STRICT;

		CREATE TABLE server_access (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			server_id TEXT NOT NULL,
			level TEXT NOT NULL CHECK (level IN ('viewer', 'operator', 'admin', 'owner')),
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			UNIQUE (user_id, server_id),
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE
		) STRICT;

		CREATE TABLE audit_logs (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT,
			user_id TEXT,
			source TEXT NOT NULL,
			details TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
	`
	if _, err := db.Exec(migrationSQL); err != nil {
		t.Fatalf("applying migration: %v", err)
	}

	return db
}

// testEnv bundles a fully wired API server over a temp database.
type testEnv struct {
	srv    *Server
	router http.Handler
	db     *sql.DB

	users    *auth.SQLiteUserRepository
	roles    *auth.SQLiteRoleRepository
	access   *auth.SQLiteAccessRepository
	sessions *auth.SQLiteSessionRepository
	fleet    *fleet.Manager
}

// newTestEnv wires the API server against a fresh database with the
// system roles seeded. The HTTP listener is never started; tests drive
// the router directly.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testDB(t)
	if err := auth.SeedRoles(context.Background(), db, nil); err != nil {
		t.Fatalf("seeding roles: %v", err)
	}

	users := auth.NewUserRepository(db)
	roles := auth.NewRoleRepository(db, nil)
	access := auth.NewAccessRepository(db)
	sessions := auth.NewSessionRepository(db)

	mgr := fleet.NewManager(server.NewRepository(db), adapter.Options{
		GracefulStopTimeout: 2 * time.Second,
	})
	if err := mgr.Load(context.Background()); err != nil {
		t.Fatalf("loading fleet: %v", err)
	}
	t.Cleanup(func() { mgr.Shutdown(context.Background()) })

	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")

	srv, err := New(Deps{
		WS: config.WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{
				Secret:          testJWTSecret,
				AccessTokenTTL:  15,
				RefreshTokenTTL: 60,
			},
		},
		Logger:     logger,
		Fleet:      mgr,
		Users:      users,
		Roles:      roles,
		Access:     access,
		Sessions:   sessions,
		Accounts:   auth.NewAccounts(users, roles, nil),
		Authorizer: auth.NewAuthorizer(users, roles, access),
		Audit:      audit.NewSQLiteRepository(db),
		DataDir:    t.TempDir(),
	})
	if err != nil {
		t.Fatalf("creating api server: %v", err)
	}

	return &testEnv{
		srv:      srv,
		router:   srv.buildRouter(),
		db:       db,
		users:    users,
		roles:    roles,
		access:   access,
		sessions: sessions,
		fleet:    mgr,
	}
}

// createUser inserts a user with the standard test password and the
// given role ID (empty for no role).
func (e *testEnv) createUser(t *testing.T, email, roleID string) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	user := &auth.User{
		Email:        email,
		DisplayName:  "Test User",
		PasswordHash: hash,
		RoleID:       roleID,
		IsActive:     true,
	}
	if err := e.users.Create(context.Background(), user); err != nil {
		t.Fatalf("creating user %s: %v", email, err)
	}
	return user
}

// tokenFor issues a signed access token for the user.
func (e *testEnv) tokenFor(t *testing.T, user *auth.User) string {
	t.Helper()

	var role *auth.Role
	if user.RoleID != "" {
		loaded, err := e.roles.GetByID(context.Background(), user.RoleID)
		if err != nil {
			t.Fatalf("loading role: %v", err)
		}
		role = loaded
	}

	token, err := auth.GenerateAccessToken(user, role, testJWTSecret, 15)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	return token
}

// createServer inserts a vanilla server through the fleet manager and
// grants ownerID the owner entry.
func (e *testEnv) createServer(t *testing.T, name, ownerID string) *server.Server {
	t.Helper()

	srv := &server.Server{
		Name:       name,
		GameType:   server.GameTypeVanilla,
		WorkingDir: t.TempDir(),
		LaunchConfig: server.LaunchConfig{
			"binary": "/bin/sleep",
			"args":   []any{"60"},
		},
	}
	if err := e.fleet.CreateServer(context.Background(), srv); err != nil {
		t.Fatalf("creating server %s: %v", name, err)
	}
	if ownerID != "" {
		if _, err := e.access.GrantOwnerOnCreate(context.Background(), ownerID, srv.ID); err != nil {
			t.Fatalf("granting owner: %v", err)
		}
	}
	return srv
}

// do performs a request against the router with optional bearer token
// and JSON body.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshalling request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// decode unmarshals a recorded JSON response body into v.
func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

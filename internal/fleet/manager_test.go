package fleet

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ravenholt/forgepanel/internal/adapter"
	"github.com/ravenholt/forgepanel/internal/server"
)

// testDB creates a temporary SQLite database with the servers schema
// applied. The database file is cleaned up when the test completes.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "fleet-test-*.db")
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
		CREATE TABLE users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			role_id TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_by TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
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
	`
	if _, err := db.Exec(migrationSQL); err != nil {
		t.Fatalf("applying servers migration: %v", err)
	}

	return db
}

// testFixture returns a manager over a fresh repository.
func testFixture(t *testing.T) (*Manager, server.Repository) {
	t.Helper()

	repo := server.NewRepository(testDB(t))
	mgr := NewManager(repo, adapter.Options{GracefulStopTimeout: 2 * time.Second})
	return mgr, repo
}

// sleepServer builds a vanilla server record whose process is /bin/sleep.
func sleepServer(t *testing.T, name string) *server.Server {
	t.Helper()

	return &server.Server{
		Name:       name,
		GameType:   server.GameTypeVanilla,
		WorkingDir: t.TempDir(),
		LaunchConfig: server.LaunchConfig{
			"binary": "/bin/sleep",
			"args":   []any{"60"},
		},
	}
}

// waitForStatus polls until the adapter reaches the wanted status.
func waitForStatus(t *testing.T, a adapter.Adapter, want adapter.Status, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if a.Status() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("status = %s after %v, want %s", a.Status(), timeout, want)
}

func TestManager_Load(t *testing.T) {
	mgr, repo := testFixture(t)
	ctx := context.Background()

	for _, name := range []string{"Alpha", "Beta", "Gamma"} {
		if err := repo.Create(ctx, sleepServer(t, name)); err != nil {
			t.Fatalf("Create(%s) error = %v", name, err)
		}
	}

	if err := mgr.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if mgr.Count() != 3 {
		t.Errorf("Count() = %d, want 3", mgr.Count())
	}

	snapshots, err := mgr.Snapshots(ctx)
	if err != nil {
		t.Fatalf("Snapshots() error = %v", err)
	}
	if len(snapshots) != 3 {
		t.Fatalf("Snapshots() returned %d, want 3", len(snapshots))
	}
	for _, s := range snapshots {
		if s.Status != adapter.StatusStopped {
			t.Errorf("server %s status = %s, want stopped", s.Server.ID, s.Status)
		}
		if s.PID != 0 {
			t.Errorf("server %s PID = %d, want 0", s.Server.ID, s.PID)
		}
	}
}

func TestManager_CreateServer(t *testing.T) {
	mgr, repo := testFixture(t)
	ctx := context.Background()

	srv := sleepServer(t, "Survival World")
	if err := mgr.CreateServer(ctx, srv); err != nil {
		t.Fatalf("CreateServer() error = %v", err)
	}

	if srv.ID == "" {
		t.Fatal("CreateServer() did not assign an ID")
	}

	// Record persisted and adapter attached.
	if _, err := repo.GetByID(ctx, srv.ID); err != nil {
		t.Errorf("GetByID() after create error = %v", err)
	}
	if _, err := mgr.Adapter(srv.ID); err != nil {
		t.Errorf("Adapter() after create error = %v", err)
	}
}

func TestManager_CreateServerInvalid(t *testing.T) {
	mgr, _ := testFixture(t)

	srv := sleepServer(t, "Bad Type")
	srv.GameType = "doom-wad"

	err := mgr.CreateServer(context.Background(), srv)
	if !errors.Is(err, server.ErrInvalidGameType) {
		t.Errorf("CreateServer() error = %v, want ErrInvalidGameType", err)
	}
	if mgr.Count() != 0 {
		t.Errorf("Count() = %d after failed create, want 0", mgr.Count())
	}
}

func TestManager_AdapterMissing(t *testing.T) {
	mgr, _ := testFixture(t)

	_, err := mgr.Adapter("srv-missing1")
	if !errors.Is(err, server.ErrServerNotFound) {
		t.Errorf("Adapter() error = %v, want ErrServerNotFound", err)
	}
}

func TestManager_StartStopThroughAdapter(t *testing.T) {
	mgr, _ := testFixture(t)
	ctx := context.Background()

	srv := sleepServer(t, "Lifecycle")
	if err := mgr.CreateServer(ctx, srv); err != nil {
		t.Fatalf("CreateServer() error = %v", err)
	}

	a, err := mgr.Adapter(srv.ID)
	if err != nil {
		t.Fatalf("Adapter() error = %v", err)
	}

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForStatus(t, a, adapter.StatusRunning, 2*time.Second)

	pids := mgr.RunningPIDs()
	if pid, ok := pids[srv.ID]; !ok || pid <= 0 {
		t.Errorf("RunningPIDs() = %v, want entry for %s", pids, srv.ID)
	}

	snap, err := mgr.Snapshot(ctx, srv.ID)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Status != adapter.StatusRunning {
		t.Errorf("Snapshot status = %s, want running", snap.Status)
	}
	if snap.PID <= 0 {
		t.Errorf("Snapshot PID = %d, want > 0", snap.PID)
	}

	if err := a.Stop(ctx, 0); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	waitForStatus(t, a, adapter.StatusStopped, 2*time.Second)

	if len(mgr.RunningPIDs()) != 0 {
		t.Errorf("RunningPIDs() = %v after stop, want empty", mgr.RunningPIDs())
	}
}

func TestManager_SinksReceiveEvents(t *testing.T) {
	mgr, _ := testFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	var events []adapter.Event
	mgr.AddSink(func(e adapter.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	srv := sleepServer(t, "Eventful")
	if err := mgr.CreateServer(ctx, srv); err != nil {
		t.Fatalf("CreateServer() error = %v", err)
	}

	a, err := mgr.Adapter(srv.ID)
	if err != nil {
		t.Fatalf("Adapter() error = %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForStatus(t, a, adapter.StatusRunning, 2*time.Second)
	if err := a.Stop(ctx, 0); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	waitForStatus(t, a, adapter.StatusStopped, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()

	var statuses []adapter.Status
	for _, e := range events {
		if e.ServerID != srv.ID {
			t.Errorf("event server ID = %q, want %q", e.ServerID, srv.ID)
		}
		if e.Type == adapter.EventStatus {
			statuses = append(statuses, e.Status)
		}
	}

	want := []adapter.Status{
		adapter.StatusStarting, adapter.StatusRunning,
		adapter.StatusStopping, adapter.StatusStopped,
	}
	if len(statuses) != len(want) {
		t.Fatalf("status events = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("status events = %v, want %v", statuses, want)
		}
	}
}

func TestManager_UpdateServerRefusedWhileRunning(t *testing.T) {
	mgr, _ := testFixture(t)
	ctx := context.Background()

	srv := sleepServer(t, "Busy")
	if err := mgr.CreateServer(ctx, srv); err != nil {
		t.Fatalf("CreateServer() error = %v", err)
	}

	a, _ := mgr.Adapter(srv.ID)
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForStatus(t, a, adapter.StatusRunning, 2*time.Second)
	defer a.Stop(ctx, 0) //nolint:errcheck // cleanup

	srv.Name = "Renamed"
	err := mgr.UpdateServer(ctx, srv)
	if !errors.Is(err, ErrServerRunning) {
		t.Errorf("UpdateServer() error = %v, want ErrServerRunning", err)
	}
}

func TestManager_UpdateServerRebuildsAdapter(t *testing.T) {
	mgr, repo := testFixture(t)
	ctx := context.Background()

	srv := sleepServer(t, "Rebuild Me")
	if err := mgr.CreateServer(ctx, srv); err != nil {
		t.Fatalf("CreateServer() error = %v", err)
	}
	oldAdapter, _ := mgr.Adapter(srv.ID)

	srv.Name = "Rebuilt"
	srv.WorkingDir = t.TempDir()
	if err := mgr.UpdateServer(ctx, srv); err != nil {
		t.Fatalf("UpdateServer() error = %v", err)
	}

	stored, err := repo.GetByID(ctx, srv.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.Name != "Rebuilt" {
		t.Errorf("stored name = %q, want Rebuilt", stored.Name)
	}

	newAdapter, err := mgr.Adapter(srv.ID)
	if err != nil {
		t.Fatalf("Adapter() after update error = %v", err)
	}
	if newAdapter == oldAdapter {
		t.Error("UpdateServer() kept the stale adapter")
	}
}

func TestManager_UpdateLaunchConfig(t *testing.T) {
	mgr, repo := testFixture(t)
	ctx := context.Background()

	srv := sleepServer(t, "Config Me")
	if err := mgr.CreateServer(ctx, srv); err != nil {
		t.Fatalf("CreateServer() error = %v", err)
	}

	merged, err := mgr.UpdateLaunchConfig(ctx, srv.ID, server.LaunchConfig{
		"max_players": 32,
	})
	if err != nil {
		t.Fatalf("UpdateLaunchConfig() error = %v", err)
	}

	if merged["max_players"] != 32 {
		t.Errorf("merged max_players = %v, want 32", merged["max_players"])
	}
	if merged["binary"] != "/bin/sleep" {
		t.Errorf("merged binary = %v, want /bin/sleep (unrelated keys survive)", merged["binary"])
	}

	// Persisted through to the repository.
	stored, err := repo.GetByID(ctx, srv.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	// JSON round-trip turns numbers into float64.
	if got, ok := stored.LaunchConfig["max_players"].(float64); !ok || got != 32 {
		t.Errorf("stored max_players = %v, want 32", stored.LaunchConfig["max_players"])
	}
}

func TestManager_DeleteServer(t *testing.T) {
	mgr, repo := testFixture(t)
	ctx := context.Background()

	srv := sleepServer(t, "Doomed")
	if err := mgr.CreateServer(ctx, srv); err != nil {
		t.Fatalf("CreateServer() error = %v", err)
	}

	// Delete while running: manager must stop the process first.
	a, _ := mgr.Adapter(srv.ID)
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForStatus(t, a, adapter.StatusRunning, 2*time.Second)

	if err := mgr.DeleteServer(ctx, srv.ID); err != nil {
		t.Fatalf("DeleteServer() error = %v", err)
	}

	if a.Status() != adapter.StatusStopped {
		t.Errorf("adapter status = %s after delete, want stopped", a.Status())
	}
	if _, err := mgr.Adapter(srv.ID); !errors.Is(err, server.ErrServerNotFound) {
		t.Errorf("Adapter() after delete error = %v, want ErrServerNotFound", err)
	}
	if _, err := repo.GetByID(ctx, srv.ID); !errors.Is(err, server.ErrServerNotFound) {
		t.Errorf("GetByID() after delete error = %v, want ErrServerNotFound", err)
	}
}

func TestManager_DeleteServerMissing(t *testing.T) {
	mgr, _ := testFixture(t)

	err := mgr.DeleteServer(context.Background(), "srv-missing1")
	if !errors.Is(err, server.ErrServerNotFound) {
		t.Errorf("DeleteServer() error = %v, want ErrServerNotFound", err)
	}
}

func TestManager_Shutdown(t *testing.T) {
	mgr, _ := testFixture(t)
	ctx := context.Background()

	var adapters []adapter.Adapter
	for _, name := range []string{"One", "Two"} {
		srv := sleepServer(t, name)
		if err := mgr.CreateServer(ctx, srv); err != nil {
			t.Fatalf("CreateServer(%s) error = %v", name, err)
		}
		a, _ := mgr.Adapter(srv.ID)
		if err := a.Start(ctx); err != nil {
			t.Fatalf("Start(%s) error = %v", name, err)
		}
		waitForStatus(t, a, adapter.StatusRunning, 2*time.Second)
		adapters = append(adapters, a)
	}

	mgr.Shutdown(ctx)

	for _, a := range adapters {
		if a.Status() != adapter.StatusStopped {
			t.Errorf("server %s status = %s after shutdown, want stopped",
				a.ServerID(), a.Status())
		}
	}
}

package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ravenholt/forgepanel/internal/adapter"
	"github.com/ravenholt/forgepanel/internal/server"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Snapshot combines a server record with its adapter's live state.
type Snapshot struct {
	Server   server.Server  `json:"server"`
	Status   adapter.Status `json:"status"`
	PID      int            `json:"pid"`
	Updating bool           `json:"updating"`
}

// Manager owns one adapter per managed server and keeps the adapter set
// in step with the server repository.
//
// All public methods are thread-safe.
type Manager struct {
	repo server.Repository
	opts adapter.Options

	adapters map[string]adapter.Adapter
	unsubs   map[string]func()
	mu       sync.RWMutex

	sinks  []adapter.Subscriber
	sinkMu sync.RWMutex

	logger Logger
}

// NewManager creates a fleet manager over the given repository.
// opts are passed through to every adapter the manager creates.
func NewManager(repo server.Repository, opts adapter.Options) *Manager {
	return &Manager{
		repo:     repo,
		opts:     opts,
		adapters: make(map[string]adapter.Adapter),
		unsubs:   make(map[string]func()),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// AddSink registers a subscriber for every adapter event in the fleet.
// Sinks added after Load still see events from existing adapters.
// Sinks must not block; they are called on adapter goroutines.
func (m *Manager) AddSink(sink adapter.Subscriber) {
	m.sinkMu.Lock()
	m.sinks = append(m.sinks, sink)
	m.sinkMu.Unlock()
}

// dispatch fans one adapter event out to all registered sinks.
func (m *Manager) dispatch(e adapter.Event) {
	m.sinkMu.RLock()
	sinks := make([]adapter.Subscriber, len(m.sinks))
	copy(sinks, m.sinks)
	m.sinkMu.RUnlock()

	for _, sink := range sinks {
		sink(e)
	}
}

// Load creates adapters for every server in the repository.
// Call once at boot, after migrations and before the API starts.
// A server whose record cannot produce an adapter is logged and
// skipped rather than failing the whole boot.
func (m *Manager) Load(ctx context.Context) error {
	servers, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading servers: %w", err)
	}

	for i := range servers {
		srv := servers[i]
		if err := m.attach(&srv); err != nil {
			m.logger.Error("skipping server with bad record",
				"server_id", srv.ID, "game_type", srv.GameType, "error", err)
		}
	}

	m.logger.Info("fleet loaded", "servers", m.Count())
	return nil
}

// attach builds and registers an adapter for the server record.
func (m *Manager) attach(srv *server.Server) error {
	a, err := adapter.New(srv, m.opts)
	if err != nil {
		return err
	}

	unsub := a.Subscribe(m.dispatch)

	m.mu.Lock()
	m.adapters[srv.ID] = a
	m.unsubs[srv.ID] = unsub
	m.mu.Unlock()

	return nil
}

// detach unsubscribes and removes the server's adapter, returning it.
func (m *Manager) detach(serverID string) adapter.Adapter {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.adapters[serverID]
	if unsub := m.unsubs[serverID]; unsub != nil {
		unsub()
	}
	delete(m.adapters, serverID)
	delete(m.unsubs, serverID)
	return a
}

// Adapter returns the live adapter for a server.
// Returns server.ErrServerNotFound if the server is not managed.
func (m *Manager) Adapter(serverID string) (adapter.Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.adapters[serverID]
	if !ok {
		return nil, server.ErrServerNotFound
	}
	return a, nil
}

// Count returns the number of managed servers.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.adapters)
}

// CreateServer persists a new server record and brings up its adapter.
// The record is validated and assigned an ID by the repository.
func (m *Manager) CreateServer(ctx context.Context, srv *server.Server) error {
	if err := m.repo.Create(ctx, srv); err != nil {
		return err
	}

	if err := m.attach(srv); err != nil {
		// Creation validated the game type, so this indicates a bug
		// rather than bad input. Roll the record back.
		if delErr := m.repo.Delete(ctx, srv.ID); delErr != nil {
			m.logger.Error("rollback of server record failed",
				"server_id", srv.ID, "error", delErr)
		}
		return err
	}

	m.logger.Info("server created", "server_id", srv.ID, "name", srv.Name)
	return nil
}

// UpdateServer persists changes to a server record and rebuilds its
// adapter from the updated record.
//
// Returns ErrServerRunning unless the server is stopped or crashed, and
// adapter.ErrUpdateInProgress while a game update holds the lock.
func (m *Manager) UpdateServer(ctx context.Context, srv *server.Server) error {
	a, err := m.Adapter(srv.ID)
	if err != nil {
		return err
	}

	if a.IsUpdating() {
		return adapter.ErrUpdateInProgress
	}
	switch a.Status() {
	case adapter.StatusStopped, adapter.StatusCrashed:
	default:
		return ErrServerRunning
	}

	if err := m.repo.Update(ctx, srv); err != nil {
		return err
	}

	// Game type or working directory may have changed; the old adapter
	// is stale either way. It holds no process, so swap is safe.
	m.detach(srv.ID)
	if err := m.attach(srv); err != nil {
		return err
	}

	m.logger.Info("server updated", "server_id", srv.ID, "name", srv.Name)
	return nil
}

// UpdateLaunchConfig merges a partial launch-config document into the
// server's adapter and persists the merged result.
//
// Unlike UpdateServer this is allowed while the server runs; changes
// take effect on the next start.
func (m *Manager) UpdateLaunchConfig(ctx context.Context, serverID string, partial server.LaunchConfig) (server.LaunchConfig, error) {
	a, err := m.Adapter(serverID)
	if err != nil {
		return nil, err
	}

	if err := a.UpdateConfig(partial); err != nil {
		return nil, err
	}

	merged := a.Config()

	srv, err := m.repo.GetByID(ctx, serverID)
	if err != nil {
		return nil, err
	}
	srv.LaunchConfig = merged
	if err := m.repo.Update(ctx, srv); err != nil {
		return nil, err
	}

	return merged, nil
}

// DeleteServer stops the server if needed, destroys its adapter, and
// deletes the record. The working directory on disk is left alone.
func (m *Manager) DeleteServer(ctx context.Context, serverID string) error {
	a, err := m.Adapter(serverID)
	if err != nil {
		return err
	}

	err = a.Stop(ctx, 0)
	if err != nil && !errors.Is(err, adapter.ErrStopTimeout) && !errors.Is(err, adapter.ErrNotRunning) {
		return fmt.Errorf("stopping server before delete: %w", err)
	}

	m.detach(serverID)

	if err := m.repo.Delete(ctx, serverID); err != nil {
		return err
	}

	m.logger.Info("server deleted", "server_id", serverID)
	return nil
}

// Snapshot returns the server record joined with its adapter state.
func (m *Manager) Snapshot(ctx context.Context, serverID string) (*Snapshot, error) {
	srv, err := m.repo.GetByID(ctx, serverID)
	if err != nil {
		return nil, err
	}

	a, err := m.Adapter(serverID)
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Server:   *srv,
		Status:   a.Status(),
		PID:      a.PID(),
		Updating: a.IsUpdating(),
	}, nil
}

// Snapshots returns all server records joined with adapter state,
// ordered by name.
func (m *Manager) Snapshots(ctx context.Context) ([]Snapshot, error) {
	servers, err := m.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	snapshots := make([]Snapshot, 0, len(servers))
	for i := range servers {
		srv := servers[i]
		a, err := m.Adapter(srv.ID)
		if err != nil {
			// Record exists but no adapter (skipped at Load).
			continue
		}
		snapshots = append(snapshots, Snapshot{
			Server:   srv,
			Status:   a.Status(),
			PID:      a.PID(),
			Updating: a.IsUpdating(),
		})
	}
	return snapshots, nil
}

// RunningPIDs reports the PID of every server with a live process,
// keyed by server ID. Used by the telemetry sampler.
func (m *Manager) RunningPIDs() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pids := make(map[string]int)
	for id, a := range m.adapters {
		if pid := a.PID(); pid > 0 {
			pids[id] = pid
		}
	}
	return pids
}

// Shutdown stops every running server concurrently and waits for all
// of them. Stop-timeout escalations are logged, not returned.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	adapters := make([]adapter.Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		adapters = append(adapters, a)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, a := range adapters {
		wg.Add(1)
		go func(a adapter.Adapter) {
			defer wg.Done()
			err := a.Stop(ctx, 0)
			if err != nil && !errors.Is(err, adapter.ErrNotRunning) {
				m.logger.Warn("server stop during shutdown",
					"server_id", a.ServerID(), "error", err)
			}
		}(a)
	}
	wg.Wait()

	m.logger.Info("fleet shut down", "servers", len(adapters))
}

package adapter

import (
	"context"
	"errors"
	"time"

	"github.com/ravenholt/forgepanel/internal/server"
)

// Status represents the lifecycle state of a managed game server process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusCrashed  Status = "crashed"
)

// Sentinel errors for adapter operations.
var (
	ErrAlreadyRunning    = errors.New("server is already running")
	ErrNotRunning        = errors.New("server is not running")
	ErrLaunchFailed      = errors.New("server failed to launch")
	ErrStopTimeout       = errors.New("graceful stop timed out, process killed")
	ErrUpdateUnsupported = errors.New("update not supported for this game type")
	ErrUpdateInProgress  = errors.New("update already in progress")
	ErrUpdateWhileUp     = errors.New("cannot update while server is running")
	ErrInstallFailed     = errors.New("server install failed")
)

// EventType distinguishes the two kinds of adapter events.
type EventType string

const (
	// EventStatus is emitted on every status transition.
	EventStatus EventType = "status"

	// EventConsole is emitted for every captured console line.
	EventConsole EventType = "console"
)

// Event is delivered to adapter subscribers on status transitions and
// console output.
type Event struct {
	ServerID  string    `json:"server_id"`
	Type      EventType `json:"type"`
	Status    Status    `json:"status,omitempty"`
	Line      string    `json:"line,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber receives adapter events. Callbacks run on the adapter's
// goroutines and must not block.
type Subscriber func(Event)

// Adapter manages the process lifecycle of a single game server. Each
// adapter is the sole owner of its server's runtime state; there is no
// cross-server coordination.
type Adapter interface {
	// ServerID returns the ID of the managed server record.
	ServerID() string

	// Install provisions the server's working directory for its game
	// type. Must be called with the server stopped.
	Install(ctx context.Context) error

	// Start launches the server process. Valid from stopped and
	// crashed; returns ErrAlreadyRunning otherwise. A launch failure
	// leaves the status at stopped.
	Start(ctx context.Context) error

	// Stop terminates the server process: SIGTERM to the process
	// group, then SIGKILL once the grace period elapses. A zero or
	// negative timeout means the configured default. Valid from
	// running and starting, ErrNotRunning otherwise; returns
	// ErrStopTimeout when the kill escalation fired.
	Stop(ctx context.Context, timeout time.Duration) error

	// Restart performs a strictly sequential stop-then-start.
	Restart(ctx context.Context) error

	// Status returns the current lifecycle status.
	Status() Status

	// PID returns the process ID, or 0 when no process is running.
	PID() int

	// Config returns a copy of the current launch configuration.
	Config() server.LaunchConfig

	// UpdateConfig merges the partial document into the launch
	// configuration. Changes take effect on the next start.
	UpdateConfig(partial server.LaunchConfig) error

	// LogBuffer returns a snapshot copy of the buffered console lines,
	// oldest first.
	LogBuffer() []LogLine

	// SendCommand writes a line to the server's stdin. It reports
	// whether the write was possible; on success the command is echoed
	// into the log buffer prefixed with "> ".
	SendCommand(text string) bool

	// Subscribe registers a subscriber for status and console events.
	// The returned function removes the subscription.
	Subscribe(sub Subscriber) (unsubscribe func())

	// IsUpdating reports whether a game update is in progress.
	IsUpdating() bool
}

// Updater is the optional update capability. Adapters for game types
// with a live update mechanism implement it alongside Adapter.
type Updater interface {
	// Update fetches and installs the given version (or latest when
	// empty). Mutually exclusive with itself and with a running server.
	Update(ctx context.Context, targetVersion string) error
}

// Update runs a game update through the adapter's Updater capability,
// falling back to ErrUpdateUnsupported for game types without one.
func Update(ctx context.Context, a Adapter, targetVersion string) error {
	u, ok := a.(Updater)
	if !ok {
		return ErrUpdateUnsupported
	}
	return u.Update(ctx, targetVersion)
}

// Logger defines the logging interface for adapters.
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

// New creates the adapter for the server record's game type.
func New(srv *server.Server, opts Options) (Adapter, error) {
	switch srv.GameType {
	case server.GameTypeVanilla:
		return NewVanilla(srv, opts), nil
	case server.GameTypeSteam:
		return NewSteam(srv, opts), nil
	}
	return nil, server.ErrInvalidGameType
}

// Options carries runtime settings shared by all adapters.
type Options struct {
	// GracefulStopTimeout is how long Stop waits for the process to
	// exit after SIGTERM before escalating to SIGKILL.
	GracefulStopTimeout time.Duration

	// SteamCmdBinary is the path to the steamcmd executable used by
	// steam adapters for install and update.
	SteamCmdBinary string

	// Logger receives adapter lifecycle logs. Nil means silent.
	Logger Logger
}

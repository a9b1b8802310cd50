package adapter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ravenholt/forgepanel/internal/server"
)

// defaultGracefulStopTimeout is applied when Options leaves it zero.
const defaultGracefulStopTimeout = 30 * time.Second

// supervisor owns the process lifecycle for one server. Concrete game
// type adapters embed it and add provisioning (Install) and optional
// update behaviour on top.
type supervisor struct {
	serverID string
	opts     Options
	logger   Logger

	// opMu serialises start/stop/restart/update so transitions are
	// strictly sequential per server.
	opMu sync.Mutex

	mu            sync.RWMutex
	launchConfig  server.LaunchConfig
	workingDir    string
	name          string
	status        Status
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	stopRequested bool
	updating      bool
	done          chan struct{}

	logs *logBuffer

	subsMu  sync.Mutex
	subs    map[int]Subscriber
	nextSub int
}

func newSupervisor(srv *server.Server, opts Options) *supervisor {
	if opts.GracefulStopTimeout == 0 {
		opts.GracefulStopTimeout = defaultGracefulStopTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	cfg := make(server.LaunchConfig, len(srv.LaunchConfig))
	for k, v := range srv.LaunchConfig {
		cfg[k] = v
	}

	return &supervisor{
		serverID:     srv.ID,
		opts:         opts,
		logger:       logger,
		launchConfig: cfg,
		workingDir:   srv.WorkingDir,
		name:         srv.Name,
		status:       StatusStopped,
		logs:         newLogBuffer(),
		subs:         make(map[int]Subscriber),
	}
}

// ServerID returns the ID of the managed server record.
func (s *supervisor) ServerID() string {
	return s.serverID
}

// Status returns the current lifecycle status.
func (s *supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// PID returns the process ID, or 0 when no process is running.
func (s *supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

// Config returns a copy of the current launch configuration.
func (s *supervisor) Config() server.LaunchConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(server.LaunchConfig, len(s.launchConfig))
	for k, v := range s.launchConfig {
		out[k] = v
	}
	return out
}

// UpdateConfig merges the partial document into the launch
// configuration. Changes take effect on the next start.
func (s *supervisor) UpdateConfig(partial server.LaunchConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(server.LaunchConfig, len(s.launchConfig)+len(partial))
	for k, v := range s.launchConfig {
		merged[k] = v
	}
	for k, v := range partial {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}

	probe := &server.Server{
		Name:         s.name,
		Slug:         "probe",
		GameType:     server.GameTypeVanilla,
		WorkingDir:   s.workingDir,
		LaunchConfig: merged,
	}
	if err := server.Validate(probe); err != nil {
		return err
	}

	s.launchConfig = merged
	return nil
}

// LogBuffer returns a snapshot copy of the buffered console lines.
func (s *supervisor) LogBuffer() []LogLine {
	return s.logs.Snapshot()
}

// IsUpdating reports whether a game update is in progress.
func (s *supervisor) IsUpdating() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updating
}

// Subscribe registers a subscriber for status and console events.
func (s *supervisor) Subscribe(sub Subscriber) func() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub

	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs, id)
	}
}

// Start launches the server process.
func (s *supervisor) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.startLocked(ctx)
}

// Stop terminates the server process. A zero or negative timeout falls
// back to the configured graceful stop timeout.
func (s *supervisor) Stop(ctx context.Context, timeout time.Duration) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stopLocked(ctx, timeout)
}

// Restart performs a strictly sequential stop-then-start under a single
// acquisition of the operation lock.
func (s *supervisor) Restart(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	// From stopped or crashed, restart degenerates to a plain start.
	err := s.stopLocked(ctx, 0)
	if err != nil && !errors.Is(err, ErrStopTimeout) && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return s.startLocked(ctx)
}

// SendCommand writes a line to the server's stdin.
func (s *supervisor) SendCommand(text string) bool {
	s.mu.RLock()
	stdin := s.stdin
	running := s.status == StatusRunning
	s.mu.RUnlock()

	if !running || stdin == nil {
		return false
	}

	if _, err := io.WriteString(stdin, text+"\n"); err != nil {
		s.logger.Warn("writing to server stdin",
			"server_id", s.serverID, "error", err)
		return false
	}

	s.appendLine("> " + text)
	return true
}

// startLocked launches the process. Caller holds opMu.
func (s *supervisor) startLocked(_ context.Context) error {
	s.mu.Lock()
	if s.updating {
		s.mu.Unlock()
		return ErrUpdateInProgress
	}
	if s.status != StatusStopped && s.status != StatusCrashed {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.status = StatusStarting
	s.stopRequested = false
	binary, args, env, err := launchSpec(s.launchConfig)
	workingDir := s.workingDir
	s.mu.Unlock()

	s.publishStatus(StatusStarting)

	if err != nil {
		s.setStatus(StatusStopped)
		return fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	s.logger.Info("starting server",
		"server_id", s.serverID, "binary", binary, "args", args)

	// Deliberately not CommandContext: the server process outlives the
	// caller's (often per-request) context and is stopped explicitly.
	cmd := exec.Command(binary, args...) //nolint:gosec // launch config is operator-controlled
	cmd.Dir = workingDir
	// New process group so the whole server tree can be signalled
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.setStatus(StatusStopped)
		return fmt.Errorf("%w: creating stdin pipe: %w", ErrLaunchFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.setStatus(StatusStopped)
		return fmt.Errorf("%w: creating stdout pipe: %w", ErrLaunchFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.setStatus(StatusStopped)
		return fmt.Errorf("%w: creating stderr pipe: %w", ErrLaunchFailed, err)
	}

	if err := cmd.Start(); err != nil {
		s.setStatus(StatusStopped)
		return fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	done := make(chan struct{})

	s.mu.Lock()
	s.cmd = cmd
	s.stdin = stdin
	s.done = done
	s.status = StatusRunning
	s.mu.Unlock()

	s.publishStatus(StatusRunning)
	s.logger.Info("server started", "server_id", s.serverID, "pid", cmd.Process.Pid)

	var readers sync.WaitGroup
	readers.Add(2) //nolint:mnd // stdout and stderr
	go s.captureOutput(stdout, &readers)
	go s.captureOutput(stderr, &readers)

	go s.monitor(cmd, &readers, done)

	return nil
}

// stopLocked terminates the process. Caller holds opMu. Stopping a
// server that is not up returns ErrNotRunning.
func (s *supervisor) stopLocked(_ context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.opts.GracefulStopTimeout
	}

	s.mu.Lock()
	if s.status != StatusRunning && s.status != StatusStarting {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.stopRequested = true
	s.status = StatusStopping
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()

	s.publishStatus(StatusStopping)

	if cmd == nil || cmd.Process == nil || done == nil {
		s.setStatus(StatusStopped)
		return nil
	}

	pid := cmd.Process.Pid
	s.logger.Info("stopping server", "server_id", s.serverID, "pid", pid)

	// SIGTERM the process group for graceful shutdown
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			s.logger.Warn("sending SIGTERM to process group",
				"server_id", s.serverID, "error", err)
		}
	}

	select {
	case <-done:
		s.logger.Info("server stopped gracefully", "server_id", s.serverID)
		return nil
	case <-time.After(timeout):
		s.logger.Warn("graceful stop timeout, sending SIGKILL",
			"server_id", s.serverID, "timeout", timeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			s.logger.Error("killing process group",
				"server_id", s.serverID, "error", err)
		}
	}

	<-done
	s.logger.Info("server killed", "server_id", s.serverID)
	return ErrStopTimeout
}

// monitor waits for the process to exit and resolves the final status:
// stopped when a stop was requested, crashed on an unsolicited exit.
func (s *supervisor) monitor(cmd *exec.Cmd, readers *sync.WaitGroup, done chan struct{}) {
	readers.Wait()
	err := cmd.Wait()

	s.mu.Lock()
	s.cmd = nil
	s.stdin = nil
	stopRequested := s.stopRequested

	var final Status
	if stopRequested {
		final = StatusStopped
	} else {
		final = StatusCrashed
	}
	s.status = final
	s.mu.Unlock()

	if stopRequested {
		s.logger.Info("server exited as requested", "server_id", s.serverID)
	} else {
		s.logger.Warn("server exited unexpectedly",
			"server_id", s.serverID, "error", err)
	}

	s.publishStatus(final)
	close(done)
}

// captureOutput reads console lines from the process and feeds them to
// the log buffer and subscribers.
func (s *supervisor) captureOutput(r io.Reader, readers *sync.WaitGroup) {
	defer readers.Done()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.appendLine(scanner.Text())
	}
}

// withUpdateLock runs fn while holding the update flag. Acquisition
// fails when an update is already in progress or the server is up;
// release happens on every exit path.
func (s *supervisor) withUpdateLock(fn func() error) error {
	s.mu.Lock()
	if s.updating {
		s.mu.Unlock()
		return ErrUpdateInProgress
	}
	if s.status != StatusStopped && s.status != StatusCrashed {
		s.mu.Unlock()
		return ErrUpdateWhileUp
	}
	s.updating = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.updating = false
		s.mu.Unlock()
	}()

	return fn()
}

// appendLine records a console line and fans it out to subscribers.
func (s *supervisor) appendLine(text string) {
	line := LogLine{Timestamp: time.Now().UTC(), Text: text}
	s.logs.Append(line)
	s.publish(Event{
		ServerID:  s.serverID,
		Type:      EventConsole,
		Line:      text,
		Timestamp: line.Timestamp,
	})
}

// setStatus transitions the status and publishes the event.
func (s *supervisor) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	s.publishStatus(status)
}

func (s *supervisor) publishStatus(status Status) {
	s.publish(Event{
		ServerID:  s.serverID,
		Type:      EventStatus,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

func (s *supervisor) publish(event Event) {
	s.subsMu.Lock()
	subs := make([]Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subsMu.Unlock()

	for _, sub := range subs {
		sub(event)
	}
}

// launchSpec extracts the binary, arguments, and environment from a
// launch configuration document.
func launchSpec(cfg server.LaunchConfig) (binary string, args, env []string, err error) {
	b, ok := cfg["binary"].(string)
	if !ok || b == "" {
		return "", nil, nil, errors.New("launch config missing binary")
	}

	if rawArgs, ok := cfg["args"].([]any); ok {
		for _, a := range rawArgs {
			str, ok := a.(string)
			if !ok {
				return "", nil, nil, fmt.Errorf("launch arg %v is not a string", a)
			}
			args = append(args, str)
		}
	}

	if rawEnv, ok := cfg["env"].(map[string]any); ok {
		for k, v := range rawEnv {
			str, ok := v.(string)
			if !ok {
				return "", nil, nil, fmt.Errorf("env value for %s is not a string", k)
			}
			env = append(env, k+"="+str)
		}
	}

	return b, args, env, nil
}

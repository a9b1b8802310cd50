package adapter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/ravenholt/forgepanel/internal/server"
)

// Steam manages a dedicated server installed and updated through
// steamcmd. It implements Updater.
type Steam struct {
	*supervisor
}

// NewSteam creates an adapter for a steam server record.
func NewSteam(srv *server.Server, opts Options) *Steam {
	return &Steam{supervisor: newSupervisor(srv, opts)}
}

// Install provisions the working directory through steamcmd: anonymous
// login, app_update with validation. The app id comes from the launch
// config.
func (s *Steam) Install(ctx context.Context) error {
	if err := s.withUpdateLock(func() error {
		return s.runSteamCmd(ctx, "")
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}
	return nil
}

// Update fetches the latest build (or the given beta branch) through
// steamcmd. Mutually exclusive with itself and with a running server.
func (s *Steam) Update(ctx context.Context, targetVersion string) error {
	return s.withUpdateLock(func() error {
		return s.runSteamCmd(ctx, targetVersion)
	})
}

// runSteamCmd executes steamcmd app_update for the configured app id,
// feeding its output into the adapter's log buffer. Caller holds the
// update lock.
func (s *Steam) runSteamCmd(ctx context.Context, targetVersion string) error {
	s.mu.RLock()
	appID, err := steamAppID(s.launchConfig)
	workingDir := s.workingDir
	steamCmd := s.opts.SteamCmdBinary
	s.mu.RUnlock()

	if err != nil {
		return err
	}
	if steamCmd == "" {
		return errors.New("steamcmd binary not configured")
	}

	updateArg := appID
	if targetVersion != "" {
		updateArg += " -beta " + targetVersion
	}

	args := []string{
		"+force_install_dir", workingDir,
		"+login", "anonymous",
		"+app_update", updateArg, "validate",
		"+quit",
	}

	s.logger.Info("running steamcmd",
		"server_id", s.serverID, "app_id", appID, "target", targetVersion)
	s.appendLine("> steamcmd app_update " + updateArg)

	cmd := exec.CommandContext(ctx, steamCmd, args...) //nolint:gosec // steamcmd path comes from config
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating steamcmd stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting steamcmd: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		s.appendLine(scanner.Text())
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("steamcmd failed: %w", err)
	}

	s.logger.Info("steamcmd finished", "server_id", s.serverID, "app_id", appID)
	return nil
}

// steamAppID extracts the steam app id from the launch config. JSON
// decoding yields float64 for numbers; YAML-sourced configs may carry
// int or string.
func steamAppID(cfg server.LaunchConfig) (string, error) {
	switch v := cfg["app_id"].(type) {
	case string:
		if v == "" {
			return "", errors.New("launch config missing app_id")
		}
		return v, nil
	case float64:
		return strconv.Itoa(int(v)), nil
	case int:
		return strconv.Itoa(v), nil
	}
	return "", errors.New("launch config missing app_id")
}

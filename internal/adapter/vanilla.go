package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ravenholt/forgepanel/internal/server"
)

// launchScriptMode is the file mode for a materialised launch script.
const launchScriptMode = 0o755

// Vanilla manages a generic command-line game server. The operator
// supplies the binaries in the working directory; there is no live
// update mechanism, so Vanilla does not implement Updater.
type Vanilla struct {
	*supervisor
}

// NewVanilla creates an adapter for a vanilla server record.
func NewVanilla(srv *server.Server, opts Options) *Vanilla {
	return &Vanilla{supervisor: newSupervisor(srv, opts)}
}

// Install materialises the working directory and, when the launch
// config carries a script body, writes it as an executable start
// script. The binary defaults to the materialised script. Like any
// provisioning step it requires the server to be down and excludes
// concurrent updates.
func (v *Vanilla) Install(_ context.Context) error {
	return v.withUpdateLock(func() error {
		v.mu.Lock()
		defer v.mu.Unlock()

		if err := os.MkdirAll(v.workingDir, launchScriptMode); err != nil {
			return fmt.Errorf("%w: creating working directory: %w", ErrInstallFailed, err)
		}

		script, ok := v.launchConfig["script"].(string)
		if !ok || script == "" {
			return nil
		}

		scriptPath := filepath.Join(v.workingDir, "start.sh")
		if err := os.WriteFile(scriptPath, []byte(script), launchScriptMode); err != nil {
			return fmt.Errorf("%w: writing launch script: %w", ErrInstallFailed, err)
		}

		if _, ok := v.launchConfig["binary"].(string); !ok {
			v.launchConfig["binary"] = "./start.sh"
		}

		v.logger.Info("vanilla server provisioned",
			"server_id", v.serverID, "working_dir", v.workingDir)
		return nil
	})
}

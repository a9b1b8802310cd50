// Forge Panel - self-hosted game server control panel.
//
// This is the main entry point. It wires the SQLite store, auth stack,
// fleet manager, HTTP API, and the optional MQTT and InfluxDB telemetry
// integrations, then waits for a shutdown signal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/ravenholt/forgepanel/migrations"

	"github.com/ravenholt/forgepanel/internal/adapter"
	"github.com/ravenholt/forgepanel/internal/api"
	"github.com/ravenholt/forgepanel/internal/audit"
	"github.com/ravenholt/forgepanel/internal/auth"
	"github.com/ravenholt/forgepanel/internal/fleet"
	"github.com/ravenholt/forgepanel/internal/infrastructure/config"
	"github.com/ravenholt/forgepanel/internal/infrastructure/database"
	"github.com/ravenholt/forgepanel/internal/infrastructure/logging"
	"github.com/ravenholt/forgepanel/internal/infrastructure/mqtt"
	"github.com/ravenholt/forgepanel/internal/infrastructure/tsdb"
	"github.com/ravenholt/forgepanel/internal/server"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Forge Panel",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database and bring the schema up to date
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Seed the system roles and, on first boot, the admin account
	if err := auth.SeedRoles(ctx, db.DB, log); err != nil {
		return fmt.Errorf("seeding roles: %w", err)
	}

	users := auth.NewUserRepository(db.DB)
	roles := auth.NewRoleRepository(db.DB, log)
	access := auth.NewAccessRepository(db.DB)
	sessions := auth.NewSessionRepository(db.DB)

	if _, err := auth.SeedAdmin(ctx, users, log); err != nil {
		return fmt.Errorf("seeding admin account: %w", err)
	}

	// Fleet manager owns one process supervisor per registered server
	mgr := fleet.NewManager(server.NewRepository(db.DB), adapter.Options{
		GracefulStopTimeout: cfg.GetGracefulStopTimeout(),
		SteamCmdBinary:      cfg.Servers.SteamCmdBinary,
		Logger:              log,
	})
	mgr.SetLogger(log)
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("loading server fleet: %w", err)
	}
	log.Info("fleet loaded", "servers", mgr.Count())
	defer func() {
		log.Info("stopping running servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetGracefulStopTimeout()+5*time.Second)
		defer cancel()
		mgr.Shutdown(shutdownCtx)
	}()

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		mgr.AddSink(mqttFleetSink(mqttClient, byte(cfg.MQTT.QoS), log))
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB for server telemetry (optional)
	var influxClient *tsdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = tsdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		// Record status transitions alongside resource samples
		mgr.AddSink(func(e adapter.Event) {
			if e.Type == adapter.EventStatus {
				influxClient.WriteStatusTransition(e.ServerID, string(e.Status))
			}
		})

		if cfg.Servers.ResourceSampleInterval > 0 {
			interval := time.Duration(cfg.Servers.ResourceSampleInterval) * time.Second
			sampler := tsdb.NewSampler(influxClient, mgr.RunningPIDs, interval, log)
			sampler.Start(ctx)
			defer sampler.Stop()
			log.Info("resource sampler started", "interval", interval)
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the HTTP API
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		WebUI:      cfg.WebUI,
		Logger:     log,
		Fleet:      mgr,
		Users:      users,
		Roles:      roles,
		Access:     access,
		Sessions:   sessions,
		Accounts:   auth.NewAccounts(users, roles, log),
		Authorizer: auth.NewAuthorizer(users, roles, access),
		Audit:      audit.NewSQLiteRepository(db.DB),
		DataDir:    cfg.Servers.DataDir,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Clean up expired refresh sessions once at startup
	if removed, err := sessions.DeleteExpired(ctx); err != nil {
		log.Warn("expired session cleanup failed", "error", err)
	} else if removed > 0 {
		log.Info("expired sessions removed", "count", removed)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	if mqttClient != nil {
		// Best-effort farewell so dashboards see a clean exit
		topics := mqtt.Topics{}
		//nolint:errcheck // shutdown notification is best-effort
		mqttClient.PublishString(topics.SystemShutdown(), time.Now().UTC().Format(time.RFC3339), 0, false)
	}

	log.Info("Forge Panel stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FORGEPANEL_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FORGEPANEL_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies infrastructure connections. MQTT and InfluxDB
// clients may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *tsdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// mqttFleetSink returns a fleet event sink that mirrors server status
// and console lines onto the MQTT topic tree. Status messages are
// retained so late subscribers see the current state.
func mqttFleetSink(client *mqtt.Client, qos byte, log *logging.Logger) adapter.Subscriber {
	topics := mqtt.Topics{}

	return func(e adapter.Event) {
		switch e.Type {
		case adapter.EventStatus:
			payload, err := json.Marshal(map[string]string{
				"server_id": e.ServerID,
				"status":    string(e.Status),
				"timestamp": e.Timestamp.UTC().Format(time.RFC3339),
			})
			if err != nil {
				return
			}
			if err := client.Publish(topics.ServerStatus(e.ServerID), payload, qos, true); err != nil {
				log.Warn("mqtt status publish failed", "server_id", e.ServerID, "error", err)
			}
		case adapter.EventConsole:
			payload, err := json.Marshal(map[string]string{
				"server_id": e.ServerID,
				"line":      e.Line,
				"timestamp": e.Timestamp.UTC().Format(time.RFC3339),
			})
			if err != nil {
				return
			}
			// Console lines are fire-and-forget at QoS 0
			if err := client.Publish(topics.ServerConsole(e.ServerID), payload, 0, false); err != nil {
				log.Warn("mqtt console publish failed", "server_id", e.ServerID, "error", err)
			}
		}
	}
}

package server

import (
	"errors"
	"time"
)

// GameType identifies how a server is provisioned and launched.
type GameType string

// Supported game types.
const (
	// GameTypeVanilla is a generic command-line game server launched from
	// a prepared working directory. No live update mechanism.
	GameTypeVanilla GameType = "vanilla"

	// GameTypeSteam is a dedicated server installed and updated through
	// steamcmd.
	GameTypeSteam GameType = "steam"
)

// AllGameTypes returns every supported game type.
func AllGameTypes() []GameType {
	return []GameType{GameTypeVanilla, GameTypeSteam}
}

// LaunchConfig holds game-type-specific launch parameters as a flexible
// JSON document: binary path, arguments, environment, steam app id, JVM
// flags, and whatever else the adapter for the game type understands.
type LaunchConfig map[string]any

// Server is a managed game server record. The record describes the
// server; its live process state belongs to the adapter layer.
type Server struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Slug         string       `json:"slug"`
	GameType     GameType     `json:"game_type"`
	WorkingDir   string       `json:"working_dir"`
	LaunchConfig LaunchConfig `json:"launch_config"`
	Port         int          `json:"port,omitempty"`
	CreatedBy    string       `json:"created_by,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Sentinel errors for server operations.
var (
	ErrServerNotFound  = errors.New("server not found")
	ErrServerExists    = errors.New("server already exists")
	ErrInvalidName     = errors.New("invalid server name")
	ErrInvalidSlug     = errors.New("invalid server slug")
	ErrInvalidGameType = errors.New("invalid game type")
	ErrInvalidPort     = errors.New("invalid port")
	ErrInvalidServer   = errors.New("invalid server")
)

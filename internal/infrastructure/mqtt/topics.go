package mqtt

import "fmt"

// Topic prefixes for the Forge Panel MQTT hierarchy.
//
// All server topics use the flat scheme: forgepanel/server/{server_id}/{channel}
// so external dashboards and alerting tools can subscribe per server or via
// wildcards without parsing payloads.
const (
	// TopicPrefix is the base for all Forge Panel topics.
	TopicPrefix = "forgepanel"

	// TopicPrefixServer is the base for per-server topics.
	TopicPrefixServer = "forgepanel/server"

	// TopicPrefixCore is the base for panel-level event topics.
	TopicPrefixCore = "forgepanel/core"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "forgepanel/system"
)

// Topics provides builders for Forge Panel MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	statusTopic := topics.ServerStatus("srv-a1b2c3d4")
//	// Returns: "forgepanel/server/srv-a1b2c3d4/status"
type Topics struct{}

// =============================================================================
// Server Topics
// =============================================================================

// ServerStatus returns the topic for server lifecycle status updates.
//
// Example: forgepanel/server/srv-a1b2c3d4/status
func (Topics) ServerStatus(serverID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixServer, serverID)
}

// ServerConsole returns the topic for server console output lines.
//
// Example: forgepanel/server/srv-a1b2c3d4/console
func (Topics) ServerConsole(serverID string) string {
	return fmt.Sprintf("%s/%s/console", TopicPrefixServer, serverID)
}

// ServerTelemetry returns the topic for server resource telemetry.
//
// Example: forgepanel/server/srv-a1b2c3d4/telemetry
func (Topics) ServerTelemetry(serverID string) string {
	return fmt.Sprintf("%s/%s/telemetry", TopicPrefixServer, serverID)
}

// =============================================================================
// Core Topics
// =============================================================================

// CoreEvent returns the topic for panel-level events.
//
// Example: forgepanel/core/event/server_created
func (Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// CoreAudit returns the topic for audit log entries streamed to the broker.
//
// Example: forgepanel/core/audit
func (Topics) CoreAudit() string {
	return fmt.Sprintf("%s/audit", TopicPrefixCore)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
//
// Example: forgepanel/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemShutdown returns the shutdown signal topic.
//
// Example: forgepanel/system/shutdown
func (Topics) SystemShutdown() string {
	return fmt.Sprintf("%s/shutdown", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllServerStatuses returns a pattern matching all server status updates.
//
// Pattern: forgepanel/server/+/status
func (Topics) AllServerStatuses() string {
	return fmt.Sprintf("%s/+/status", TopicPrefixServer)
}

// AllServerConsoles returns a pattern matching all server console output.
//
// Pattern: forgepanel/server/+/console
func (Topics) AllServerConsoles() string {
	return fmt.Sprintf("%s/+/console", TopicPrefixServer)
}

// AllServerTelemetry returns a pattern matching all server telemetry.
//
// Pattern: forgepanel/server/+/telemetry
func (Topics) AllServerTelemetry() string {
	return fmt.Sprintf("%s/+/telemetry", TopicPrefixServer)
}

// AllCoreEvents returns a pattern matching all core events.
//
// Pattern: forgepanel/core/event/+
func (Topics) AllCoreEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefixCore)
}

// AllTopics returns a pattern matching all Forge Panel topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: forgepanel/#
func (Topics) AllTopics() string {
	return "forgepanel/#"
}

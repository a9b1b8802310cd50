// Package fleet manages the set of live server adapters.
//
// The Manager owns exactly one adapter per managed server record. It
// creates adapters at boot from the repository, keeps them in step with
// server create/update/delete, and fans every adapter event (status
// transitions, console lines) out to registered sinks: the MQTT relay,
// the WebSocket hub, and the telemetry recorder.
//
// Server records for running servers are immutable through the Manager;
// stop the server first. Launch-config changes go through
// UpdateLaunchConfig, which applies them to the adapter and persists the
// merged document in one step.
package fleet

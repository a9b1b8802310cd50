// Package api implements the HTTP REST API and WebSocket server for
// Forge Panel.
//
// This package provides:
//   - REST endpoints for user, role, and access-grant management
//   - Server CRUD and process lifecycle control (start/stop/restart,
//     console commands, game updates)
//   - WebSocket hub for real-time console and status streaming
//   - JWT authentication with refresh-token rotation and ticket-based
//     WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for production deployments
//
// # Architecture
//
// The API server sits between operator interfaces (the bundled web UI,
// scripts, bots) and the fleet manager. Lifecycle commands go straight
// to the per-server adapter; adapter events flow back through a fleet
// sink and are broadcast to subscribed WebSocket clients.
//
// # Security
//
// Access tokens are short-lived JWTs validated by signature only; the
// permission snapshot they carry is advisory. Every authorization
// decision on a mutating route goes through the Authorizer against
// persisted role and grant state. WebSocket connections use single-use
// tickets to keep tokens out of URLs.
package api

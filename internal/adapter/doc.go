// Package adapter supervises game server processes. Each managed server
// gets exactly one adapter, which owns the process lifecycle (status
// machine, graceful stop with kill escalation), a bounded console log
// ring, stdin command injection, and a per-adapter subscriber list for
// status and console events.
//
// Two game types are supported: vanilla (generic command-line servers,
// no live update) and steam (provisioned and updated through steamcmd).
// The update capability is the optional Updater interface; the package
// level Update helper reports unsupported for adapters without it.
package adapter

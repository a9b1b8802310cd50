// Package server holds managed game server records: identity, game type,
// working directory, and launch configuration. Records are persisted to
// SQLite; the live process lifecycle for a record belongs to the adapter
// and fleet layers.
package server

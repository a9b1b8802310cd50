package fleet

import "errors"

// Sentinel errors for fleet operations.
var (
	// ErrServerRunning is returned when an operation requires the
	// server to be stopped (record edits, deletion without force).
	ErrServerRunning = errors.New("fleet: server is running")
)

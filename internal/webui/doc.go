// Package webui serves the operator web interface build directory.
//
// The Handler function returns an http.Handler that serves a compiled
// single-page application from the filesystem with SPA fallback
// routing: if a requested file does not exist, index.html is served so
// that client-side routing works correctly.
//
// Cache-control headers are set to no-cache for mutable assets
// (index.html, JS bootstrap). Content-hashed chunk files ensure proper
// cache-busting for immutable assets.
package webui

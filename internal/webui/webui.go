package webui

import (
	"net/http"
	"os"
	"path"
)

// placeholderPage is served when no UI build directory is configured.
const placeholderPage = `<!DOCTYPE html>
<html>
<head><title>Forge Panel</title></head>
<body>
<h1>Forge Panel</h1>
<p>No web UI build is installed. Point webui.dir at a UI build directory, or use the HTTP API directly.</p>
</body>
</html>
`

// Handler returns an http.Handler that serves the operator web UI.
//
// Assets are served from dir. If dir is empty or does not exist, a
// placeholder page is served instead so the panel still responds on
// its root path.
//
// SPA fallback: if a requested file doesn't exist, index.html is
// served so client-side routing works correctly.
func Handler(dir string) http.Handler {
	var fileSystem http.FileSystem
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			fileSystem = http.Dir(dir)
		}
	}

	if fileSystem == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(placeholderPage))
		})
	}

	fileServer := http.FileServer(fileSystem)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent aggressive caching of mutable assets (index.html, JS).
		// Build tooling hashes its chunk files, so this is safe for cache-busting.
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		// Clean the path
		upath := path.Clean(r.URL.Path)
		if upath == "." {
			upath = "/"
		}

		// For root, let FileServer handle it (serves index.html automatically)
		if upath == "/" {
			fileServer.ServeHTTP(w, r)
			return
		}

		// Try to open the requested file
		filePath := upath[1:] // strip leading /
		f, err := fileSystem.Open(filePath)
		if err != nil {
			// File not found — SPA fallback: serve index.html with 200
			r.URL.Path = "/"
			fileServer.ServeHTTP(w, r)
			return
		}
		f.Close()

		// File exists — serve it directly
		fileServer.ServeHTTP(w, r)
	})
}

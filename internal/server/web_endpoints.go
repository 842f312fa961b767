package server

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/lanki/edge/internal/proxy"
)

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// HandleFallback serves the degraded-mode endpoints the proxy redirects
// to when every upstream attempt failed. Exposed as routes as well so
// clients can probe the degraded behavior directly.
func HandleFallback() http.HandlerFunc {
	return proxy.Fallback
}

// mountStatic serves the frontend assets from dir. The index page is
// served for "/" and unmatched paths fall through to 404 handling by
// the file server itself.
func mountStatic(r chi.Router, dir string) {
	fs := http.FileServer(http.Dir(dir))
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		fs.ServeHTTP(w, req)
	})
	r.Get("/*", func(w http.ResponseWriter, req *http.Request) {
		// Reject path traversal before touching the filesystem.
		if filepath.Clean(req.URL.Path) != req.URL.Path {
			http.NotFound(w, req)
			return
		}
		fs.ServeHTTP(w, req)
	})
}

// staticDirUsable reports whether dir exists and is a directory.
func staticDirUsable(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

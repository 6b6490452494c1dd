package httpapi

import (
	"net/http"
	"path"
	"strings"
)

// staticMIME is the extension table spec.md §6 gives explicitly, narrower
// and more deterministic than the OS-dependent stdlib mime.TypeByExtension
// table this server's build environment can't rely on.
var staticMIME = map[string]string{
	".html":  "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "application/javascript",
	".svg":   "image/svg+xml",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
	".eot":   "application/vnd.ms-fontobject",
}

func mimeForPath(p string) string {
	if m, ok := staticMIME[path.Ext(p)]; ok {
		return m
	}
	return "application/octet-stream"
}

// staticHandler serves the bundled UI at its basename paths, with "/"
// also serving index.html (spec.md §6 "Static assets").
type staticHandler struct {
	fs http.FileSystem
}

func newStaticHandler(fs http.FileSystem) http.Handler {
	return &staticHandler{fs: fs}
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "" {
		name = "index.html"
	}

	f, err := h.fs.Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil || stat.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", mimeForPath(name))
	http.ServeContent(w, r, name, stat.ModTime(), f)
}

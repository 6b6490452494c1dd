package httpapi

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMimeForPathKnownExtensions(t *testing.T) {
	assert.Equal(t, "text/html; charset=utf-8", mimeForPath("index.html"))
	assert.Equal(t, "font/woff2", mimeForPath("fonts/a.woff2"))
	assert.Equal(t, "application/octet-stream", mimeForPath("unknown.bin"))
}

func TestStaticHandlerServesIndexAtRoot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir+"/index.html", "<html>ui</html>")
	handler := newStaticHandler(http.Dir(dir))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// "/" must resolve to index.html, not "" or a directory listing.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<html>ui</html>")
}

func TestStaticHandlerServesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir+"/app.js", "console.log('hi')")

	handler := newStaticHandler(http.Dir(dir))
	req := httptest.NewRequest(http.MethodGet, "/app.js", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/javascript", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "console.log")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
}

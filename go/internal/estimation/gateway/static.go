package gateway

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// HandleHealth handles GET /health
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Timestamp: time.Now().UnixMilli()})
}

// SPAHandler serves a built single page client. Paths that don't name a
// file get index.html so client-side routes survive a reload.
type SPAHandler struct {
	dir        string
	fileServer http.Handler
}

func NewSPAHandler(dir string) *SPAHandler {
	return &SPAHandler{
		dir:        dir,
		fileServer: http.FileServer(http.Dir(dir)),
	}
}

func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := filepath.Join(h.dir, filepath.FromSlash(path.Clean("/"+r.URL.Path)))

	info, err := os.Stat(name)
	if err == nil && !info.IsDir() {
		h.fileServer.ServeHTTP(w, r)
		return
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	http.ServeFile(w, r, filepath.Join(h.dir, "index.html"))
}

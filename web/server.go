package web

import (
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/b1naryth1ef/invar/archive"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewHandler serves an output directory and, under /archive/{name}, the
// tiles of the given archives.
func NewHandler(root string, archives map[string]*archive.MBTiles) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/archive/{name}/{z}/{x}/{y}", func(w http.ResponseWriter, req *http.Request) {
		m, ok := archives[chi.URLParam(req, "name")]
		if !ok {
			http.NotFound(w, req)
			return
		}

		yParam := chi.URLParam(req, "y")
		ext := path.Ext(yParam)
		z, errZ := strconv.Atoi(chi.URLParam(req, "z"))
		x, errX := strconv.Atoi(chi.URLParam(req, "x"))
		y, errY := strconv.Atoi(strings.TrimSuffix(yParam, ext))
		if errZ != nil || errX != nil || errY != nil {
			http.Error(w, "invalid tile address", http.StatusBadRequest)
			return
		}

		data, err := m.Tile(z, x, y)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if data == nil {
			http.NotFound(w, req)
			return
		}

		if ct := contentType(ext); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.Write(data)
	})

	r.Handle("/*", http.FileServer(http.Dir(root)))
	return r
}

func contentType(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	}
	return ""
}

// Package handler contains the HTTP request handlers of the portal.
//
// Handlers parse requests, call the service layer, and write responses.
// They hold no business rules.
package handler

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// PageHandler serves the pre-authored HTML pages.
//
// Pages are read from disk on every request, so an edited page is live
// without a restart and a deleted page turns into a 404.
type PageHandler struct {
	dir    string
	logger *slog.Logger
}

// NewPageHandler serves pages from dir.
func NewPageHandler(dir string, logger *slog.Logger) *PageHandler {
	return &PageHandler{dir: dir, logger: logger}
}

// Page returns a handler that serves one file from the page directory.
// A missing file produces 404 {"error": "<file> not found"}.
func (h *PageHandler) Page(file string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := os.Open(filepath.Join(h.dir, file))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": file + " not found"})
				return
			}
			h.logger.Error("opening page failed",
				slog.String("file", file),
				slog.String("error", err.Error()),
			)
			writeError(w, err)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": file + " not found"})
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		// ServeContent handles HEAD, Range and If-Modified-Since for us.
		http.ServeContent(w, r, file, info.ModTime(), f)
	}
}

// Assets serves the static asset directory (<dir>/res) under prefix.
func (h *PageHandler) Assets(prefix string) http.Handler {
	return http.StripPrefix(prefix, http.FileServer(http.Dir(filepath.Join(h.dir, "res"))))
}

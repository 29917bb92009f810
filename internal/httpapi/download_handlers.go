package httpapi

import (
	"database/sql"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"oppscout-engine/internal/store"
)

type DownloadHandler struct {
	DB  *sql.DB
	Dir string
}

// GetByPath serves one generated report. Only filenames registered in the
// reports index are served, so path tricks never reach the filesystem.
func (h DownloadHandler) GetByPath(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/download/")
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "expected /download/{filename}")
		return
	}

	rep, err := store.LookupReport(r.Context(), h.DB, name)
	if errors.Is(err, store.ErrReportNotFound) {
		WriteError(w, r, http.StatusNotFound, "report_not_found", "no such report")
		return
	}
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	path := filepath.Join(h.Dir, rep.Filename)
	if _, err := os.Stat(path); err != nil {
		// indexed but gone from disk, likely cleaned up out of band
		WriteError(w, r, http.StatusNotFound, "report_not_found", "report file no longer available")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+rep.Filename+`"`)
	http.ServeFile(w, r, path)
}

func (h DownloadHandler) List(w http.ResponseWriter, r *http.Request) {
	reports, err := store.ListReports(r.Context(), h.DB, 100)
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if reports == nil {
		reports = []store.Report{}
	}
	WriteJSON(w, http.StatusOK, reports)
}

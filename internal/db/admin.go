package db

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/lexi.report/internal/httputil"
	"github.com/banshee-data/lexi.report/internal/monitoring"
	"github.com/banshee-data/lexi.report/internal/telemetry/rates"
)

// AttachAdminRoutes mounts the debug pages on mux: live SQL, a database
// backup download and a JSON listing of stored captures.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "LEXI captures",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.serveBackup))
	debug.HandleFunc("captures", "Stored captures as JSON", db.serveCaptures)
	debug.HandleSilentFunc("capture-rates", db.serveCaptureRates)
	return nil
}

func (db *DB) serveCaptures(w http.ResponseWriter, r *http.Request) {
	captures, err := db.Captures()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list captures: %v", err))
		return
	}
	if captures == nil {
		captures = []Capture{}
	}
	httputil.WriteJSON(w, http.StatusOK, captures)
}

// captureRates is the response of the capture-rates debug route.
type captureRates struct {
	CaptureID string        `json:"capture_id"`
	Summary   rates.Summary `json:"summary"`
	Bins      []rates.Bin   `json:"bins"`
}

// serveCaptureRates reports per-second event rates for ?id=<capture_id>.
// Commanded events are left out when exclude_commanded=1.
func (db *DB) serveCaptureRates(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		httputil.BadRequest(w, "missing id parameter")
		return
	}
	var exists int
	if err := db.QueryRowContext(r.Context(), `SELECT COUNT(*) FROM captures WHERE capture_id = ?`, id).Scan(&exists); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if exists == 0 {
		httputil.NotFound(w, fmt.Sprintf("capture %s not found", id))
		return
	}

	events, err := db.DetectorEvents(id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	opts := rates.Options{ExcludeCommanded: r.URL.Query().Get("exclude_commanded") == "1"}
	bins := rates.Bins(events, opts)
	if bins == nil {
		bins = []rates.Bin{}
	}
	httputil.WriteJSON(w, http.StatusOK, captureRates{
		CaptureID: id,
		Summary:   rates.Summarize(events, opts),
		Bins:      bins,
	})
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "lexi-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup directory: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			monitoring.Logf("Failed to remove backup directory: %v", err)
		}
	}()

	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := db.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")

	gzipWriter := gzip.NewWriter(w)
	defer gzipWriter.Close()
	if _, err := io.Copy(gzipWriter, backupFile); err != nil {
		monitoring.Logf("Failed to write backup: %v", err)
	}
}

package db

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/lexi.report/internal/monitoring"
	"github.com/banshee-data/lexi.report/internal/telemetry"
	"github.com/banshee-data/lexi.report/internal/telemetry/calib"
	"github.com/banshee-data/lexi.report/internal/telemetry/decode"
	"github.com/banshee-data/lexi.report/internal/telemetry/pipeline"
	"github.com/banshee-data/lexi.report/internal/testutil"
	"github.com/banshee-data/lexi.report/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testResult(t *testing.T) *pipeline.Result {
	t.Helper()
	vpc := testutil.VoltsPerCount
	counts := func(v ...float64) [4]uint16 {
		var c [4]uint16
		for i := range v {
			c[i] = testutil.CountsForVolts(v[i], vpc)
		}
		return c
	}
	buf := testutil.Concat(
		testutil.HKFrame(100, 3, 2000, 5, 1, 0),
		testutil.ScienceFrame(101, false, counts(2.5, 2.5, 2.6, 2.4)),
		testutil.ScienceFrame(102, true, counts(0, 0, 2.6, 2.4)),
		testutil.HKFrame(103, 0, 1000, 2, 0, 1),
	)
	engine, err := calib.NewEngine(calib.Identity(2.1, 3.3))
	if err != nil {
		t.Fatal(err)
	}
	res, err := pipeline.Run(context.Background(), buf, pipeline.Options{Decoder: decode.New(vpc), Engine: engine})
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestNewDB_MigratesToLatest(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("version = %d dirty = %v, want 2 clean", version, dirty)
	}

	// Reopening an up-to-date database is a no-op.
	again, err := NewDB(db.Path())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	again.Close()
}

func TestMigrateDownAndForce(t *testing.T) {
	db := newTestDB(t)

	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	version, _, err := db.MigrateVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != 1 {
		t.Errorf("version after down = %d, want 1", version)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_hk_rows_met'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Error("idx_hk_rows_met should be dropped by the down migration")
	}

	if err := db.MigrateForce(2); err != nil {
		t.Fatalf("MigrateForce: %v", err)
	}
	if version, _, _ := db.MigrateVersion(); version != 2 {
		t.Errorf("version after force = %d, want 2", version)
	}
}

func TestOpenDB_NoMigrations(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "bare.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatal(err)
	}
	if version != 0 || dirty {
		t.Errorf("fresh database version = %d dirty = %v", version, dirty)
	}
}

func TestPragmas(t *testing.T) {
	db := newTestDB(t)

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestRecordResult_FramesCountsScannedFrames(t *testing.T) {
	db := newTestDB(t)
	res := testResult(t)
	// A frame the decoder refused still counts as scanned.
	res.Stats.Scan.Frames++
	res.Stats.FramingDrops++

	c, err := db.RecordResult(context.Background(), "run.bin", 64, res)
	if err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	if c.Frames != 5 || c.Frames == len(res.Packets) {
		t.Errorf("Frames = %d, want scanned frame count 5 (packets %d)", c.Frames, len(res.Packets))
	}
	captures, err := db.Captures()
	if err != nil {
		t.Fatal(err)
	}
	if len(captures) != 1 || captures[0].Frames != 5 {
		t.Errorf("stored captures = %v, want one with 5 frames", captures)
	}
}

func TestRecordResult_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	res := testResult(t)

	c, err := db.RecordResult(context.Background(), "run.bin", 64, res)
	if err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	if c.Frames != 4 || c.Science != 2 || c.Housekeeping != 2 || c.ValidEvents != 1 {
		t.Errorf("unexpected capture counters: %s", c)
	}

	captures, err := db.Captures()
	if err != nil {
		t.Fatal(err)
	}
	if len(captures) != 1 {
		t.Fatalf("got %d captures, want 1", len(captures))
	}
	if diff := cmp.Diff(*c, captures[0]); diff != "" {
		t.Errorf("stored capture differs (-want +got):\n%s", diff)
	}

	events, err := db.DetectorEvents(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	// Rejected events store no position.
	want := append([]telemetry.DetectorEvent(nil), res.Events...)
	for i := range want {
		if !want[i].Valid {
			want[i].X, want[i].Y = 0, 0
		}
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("detector events differ (-want +got):\n%s", diff)
	}

	rows, err := db.HousekeepingRows(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(res.HKRows, rows); diff != "" {
		t.Errorf("hk rows differ (-want +got):\n%s", diff)
	}

	science, hk, err := db.PacketCounts(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if science != 2 || hk != 2 {
		t.Errorf("packet counts = (%d, %d), want (2, 2)", science, hk)
	}
}

func TestRecordResult_EmptyAndUnknownCapture(t *testing.T) {
	db := newTestDB(t)

	c, err := db.RecordResult(context.Background(), "empty.bin", 0, &pipeline.Result{})
	if err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	if c.Frames != 0 {
		t.Errorf("frames = %d", c.Frames)
	}

	events, err := db.DetectorEvents("no-such-capture")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events for unknown capture", len(events))
	}
}

func TestRecordResult_CancelledContext(t *testing.T) {
	db := newTestDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := db.RecordResult(ctx, "run.bin", 64, testResult(t)); err == nil {
		t.Fatal("expected error for cancelled context")
	}

	captures, err := db.Captures()
	if err != nil {
		t.Fatal(err)
	}
	if len(captures) != 0 {
		t.Errorf("cancelled record left %d captures", len(captures))
	}
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes: %v", err)
	}

	// tsweb may reject non-local callers; the routes only need to exist.
	for _, path := range []string{"/debug/tailsql/", "/debug/backup", "/debug/captures"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		if w.Code == http.StatusNotFound {
			t.Errorf("%s returned 404", path)
		}
	}
}

func TestServeCaptures(t *testing.T) {
	db := newTestDB(t)

	w := httptest.NewRecorder()
	db.serveCaptures(w, httptest.NewRequest(http.MethodGet, "/debug/captures", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Body.String(); got != "[]\n" {
		t.Errorf("empty listing = %q", got)
	}

	if _, err := db.RecordResult(context.Background(), "run.bin", 64, testResult(t)); err != nil {
		t.Fatal(err)
	}
	w = httptest.NewRecorder()
	db.serveCaptures(w, httptest.NewRequest(http.MethodGet, "/debug/captures", nil))

	var got []Capture
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(got) != 1 || got[0].Source != "run.bin" {
		t.Errorf("listing = %+v", got)
	}
}

func TestServeBackup(t *testing.T) {
	db := newTestDB(t)

	w := httptest.NewRecorder()
	db.serveBackup(w, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/gzip" {
		t.Errorf("Content-Type = %q", ct)
	}
	// gzip magic
	if b := w.Body.Bytes(); len(b) < 2 || b[0] != 0x1f || b[1] != 0x8b {
		t.Error("backup body is not gzip")
	}
}

func TestRecordCapture(t *testing.T) {
	db := newTestDB(t)

	c := &Capture{Source: "serial:/dev/ttyUSB0", SizeBytes: 4096}
	if err := db.RecordCapture(context.Background(), c); err != nil {
		t.Fatalf("RecordCapture: %v", err)
	}
	if c.ID == "" || c.Created.IsZero() {
		t.Fatalf("id and creation time should be assigned: %+v", c)
	}

	captures, err := db.Captures()
	if err != nil {
		t.Fatal(err)
	}
	if len(captures) != 1 || captures[0].ID != c.ID || captures[0].SizeBytes != 4096 {
		t.Errorf("captures = %+v", captures)
	}

	if err := db.RecordCapture(context.Background(), c); err == nil {
		t.Error("expected duplicate id to fail")
	}
}

func TestCaptures_NewestFirst(t *testing.T) {
	db := newTestDB(t)
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	db.SetClock(clock)

	for _, src := range []string{"first.bin", "second.bin", "third.bin"} {
		if err := db.RecordCapture(context.Background(), &Capture{Source: src}); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Minute)
	}

	captures, err := db.Captures()
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, c := range captures {
		got = append(got, c.Source)
	}
	if diff := cmp.Diff([]string{"third.bin", "second.bin", "first.bin"}, got); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
	if !captures[2].Created.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("created = %v", captures[2].Created)
	}
}

func TestServeCaptureRates(t *testing.T) {
	db := newTestDB(t)
	c, err := db.RecordResult(context.Background(), "run.bin", 64, testResult(t))
	if err != nil {
		t.Fatal(err)
	}

	get := func(query string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		db.serveCaptureRates(w, httptest.NewRequest(http.MethodGet, "/debug/capture-rates"+query, nil))
		return w
	}

	if w := get(""); w.Code != http.StatusBadRequest {
		t.Errorf("missing id: status = %d", w.Code)
	}
	if w := get("?id=nope"); w.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d", w.Code)
	}

	w := get("?id=" + c.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var resp captureRates
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Summary.Total != 2 || resp.Summary.Valid != 1 {
		t.Errorf("summary = %+v", resp.Summary)
	}
	if len(resp.Bins) != 1 || resp.Bins[0].All != 2 {
		t.Errorf("bins = %+v", resp.Bins)
	}

	// The second science event is commanded.
	if err := json.Unmarshal(get("?id="+c.ID+"&exclude_commanded=1").Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Summary.Total != 1 {
		t.Errorf("total without commanded = %d, want 1", resp.Summary.Total)
	}
}

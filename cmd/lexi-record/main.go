// Command lexi-record records a raw LEXI telemetry stream from a serial
// port into a capture file for later decoding with lexi-decode.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/lexi.report/internal/db"
	"github.com/banshee-data/lexi.report/internal/fsutil"
	"github.com/banshee-data/lexi.report/internal/monitoring"
	"github.com/banshee-data/lexi.report/internal/telemetry/capture"
	"github.com/banshee-data/lexi.report/internal/version"
)

var (
	port        = flag.String("port", "/dev/ttyUSB0", "Serial port to record from")
	baud        = flag.Int("baud", 115200, "Baud rate")
	parity      = flag.String("parity", "N", "Parity: N, E or O")
	stopBits    = flag.Int("stop-bits", 1, "Stop bits: 1 or 2")
	outPath     = flag.String("out", "capture.bin", "Capture file to write")
	maxBytes    = flag.Int64("max-bytes", 0, "Stop after this many bytes (0 records until interrupted)")
	dbPath      = flag.String("db", "", "Register the recording in this SQLite database")
	force       = flag.Bool("force", false, "Overwrite an existing capture file")
	verbose     = flag.Bool("v", false, "Verbose logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("lexi-record"))
		return
	}
	if *port == "" {
		log.Fatal("Serial port is required")
	}
	monitoring.SetVerbose(*verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec := &capture.Recorder{
		Path:     *port,
		Options:  capture.PortOptions{BaudRate: *baud, StopBits: *stopBits, Parity: *parity},
		MaxBytes: *maxBytes,
	}
	fsys := fsutil.OSFileSystem{}
	if fsys.Exists(*outPath) && !*force {
		log.Fatalf("%s already exists; use -force to overwrite", *outPath)
	}
	n, err := record(ctx, rec, fsys, *outPath, *dbPath)
	if err != nil {
		log.Fatalf("record %s: %v", *port, err)
	}
	log.Printf("wrote %s to %s", humanize.Bytes(uint64(n)), *outPath)
}

// record writes the serial stream to out and optionally registers the file
// as an undecoded capture in the database at dbPath.
func record(ctx context.Context, rec *capture.Recorder, fsys fsutil.FileSystem, out, dbPath string) (int64, error) {
	if dir := filepath.Dir(out); dir != "." {
		if err := fsys.MkdirAll(dir, 0755); err != nil {
			return 0, err
		}
	}
	f, err := fsys.Create(out)
	if err != nil {
		return 0, err
	}

	n, err := rec.Record(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}

	if dbPath == "" {
		return n, nil
	}
	store, err := db.NewDB(dbPath)
	if err != nil {
		return n, fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	c := &db.Capture{Source: "serial:" + rec.Path + ":" + filepath.Base(out), SizeBytes: n}
	// The capture is registered with a fresh context so an interrupt that
	// ended the recording does not also abort the insert.
	if err := store.RecordCapture(context.WithoutCancel(ctx), c); err != nil {
		return n, err
	}
	monitoring.Logf("registered capture %s", c.ID)
	return n, nil
}

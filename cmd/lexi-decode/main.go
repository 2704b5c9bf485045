// Command lexi-decode decodes one LEXI telemetry capture: it scans frames,
// decodes packets, builds the housekeeping table, calibrates science events
// and stores everything in SQLite.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/lexi.report/internal/config"
	"github.com/banshee-data/lexi.report/internal/db"
	"github.com/banshee-data/lexi.report/internal/fsutil"
	"github.com/banshee-data/lexi.report/internal/monitoring"
	"github.com/banshee-data/lexi.report/internal/telemetry"
	"github.com/banshee-data/lexi.report/internal/telemetry/calib"
	"github.com/banshee-data/lexi.report/internal/telemetry/capture"
	"github.com/banshee-data/lexi.report/internal/telemetry/pipeline"
	"github.com/banshee-data/lexi.report/internal/telemetry/rates"
	"github.com/banshee-data/lexi.report/internal/version"
)

var (
	inPath      = flag.String("in", "", "Capture file to decode (required)")
	pcapInput   = flag.Bool("pcap", false, "Treat the input as a PCAP of UDP-forwarded frames")
	udpPort     = flag.Int("port", 0, "UDP destination port to keep when reading a PCAP (0 keeps all)")
	configPath  = flag.String("config", "", "Calibration config (.json or .yaml); built-in ground calibration if empty")
	dbPath      = flag.String("db", "lexi.db", "SQLite database to store results in (empty skips storing)")
	workers     = flag.Int("workers", 0, "Decode and calibration workers (0 uses the config, then GOMAXPROCS)")
	listen      = flag.String("listen", "", "Serve the admin routes on this address after decoding")
	maxBytes    = flag.Int64("max-bytes", capture.DefaultMaxBytes, "Refuse capture files (raw or PCAP) larger than this")
	verbose     = flag.Bool("v", false, "Verbose logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

type options struct {
	In       string
	PCAP     bool
	Port     int
	Config   string
	DB       string
	Workers  int
	MaxBytes int64
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("lexi-decode"))
		return
	}
	if *inPath == "" {
		log.Fatal("-in is required")
	}
	monitoring.SetVerbose(*verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{
		In:       *inPath,
		PCAP:     *pcapInput,
		Port:     *udpPort,
		Config:   *configPath,
		DB:       *dbPath,
		Workers:  *workers,
		MaxBytes: *maxBytes,
	}
	store, err := run(ctx, opts, os.Stdout)
	if err != nil {
		log.Fatalf("decode %s: %v", opts.In, err)
	}
	if store == nil {
		return
	}
	defer store.Close()

	if *listen == "" {
		return
	}
	if err := serve(ctx, store, *listen); err != nil {
		log.Fatalf("admin server: %v", err)
	}
}

// run decodes the capture, prints a summary to out and stores the result.
// The returned database is nil when opts.DB is empty.
func run(ctx context.Context, opts options, out io.Writer) (*db.DB, error) {
	cfg := config.DefaultCalibrationConfig()
	if opts.Config != "" {
		var err error
		if cfg, err = config.LoadCalibrationConfig(opts.Config); err != nil {
			return nil, err
		}
	}
	engine, err := calib.NewEngine(cfg.ToCalibration())
	if err != nil {
		return nil, err
	}
	n := cfg.GetWorkers()
	if opts.Workers > 0 {
		n = opts.Workers
	}

	buf, err := load(opts)
	if err != nil {
		return nil, err
	}

	res, err := pipeline.Run(ctx, buf, pipeline.Options{
		Decoder: cfg.ToDecoder(),
		Engine:  engine,
		Workers: n,
	})
	if err != nil {
		return nil, err
	}
	printSummary(out, opts.In, len(buf), res, cfg.GetLengthUnit())

	if opts.DB == "" {
		return nil, nil
	}
	store, err := db.NewDB(opts.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	c, err := store.RecordResult(ctx, filepath.Base(opts.In), int64(len(buf)), res)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("store result: %w", err)
	}
	fmt.Fprintf(out, "stored capture %s in %s\n", c.ID, opts.DB)
	return store, nil
}

// load reads the capture. For a PCAP the size cap applies to the file
// itself, which bounds the extracted payload too.
func load(opts options) ([]byte, error) {
	raw, err := capture.LoadFile(fsutil.OSFileSystem{}, opts.In, opts.MaxBytes)
	if err != nil || !opts.PCAP {
		return raw, err
	}

	buf, stats, err := capture.LoadPCAP(bytes.NewReader(raw), opts.Port)
	if err != nil {
		return nil, err
	}
	if stats.Skipped > 0 {
		log.Printf("pcap: skipped %s of %s records", humanize.Comma(int64(stats.Skipped)), humanize.Comma(int64(stats.Packets)))
	}
	return buf, nil
}

func printSummary(w io.Writer, name string, size int, res *pipeline.Result, unit string) {
	st := res.Stats
	fmt.Fprintf(w, "%s: %s, %s frames (%s science, %s housekeeping) in %v\n",
		name,
		humanize.Bytes(uint64(size)),
		humanize.Comma(int64(len(res.Packets))),
		humanize.Comma(int64(st.Science)),
		humanize.Comma(int64(st.Housekeeping)),
		st.Elapsed.Round(time.Millisecond))
	if st.Scan.Resyncs > 0 || st.Scan.TruncatedTail > 0 {
		fmt.Fprintf(w, "  framing: %d resyncs, %s skipped, %d-byte truncated tail\n",
			st.Scan.Resyncs, humanize.Bytes(uint64(st.Scan.SkippedBytes)), st.Scan.TruncatedTail)
	}

	sum := rates.Summarize(res.Events, rates.Options{})
	fmt.Fprintf(w, "  events: %s valid of %s (%.1f/s valid, %.1f/s total over %.1fs), positions in %s\n",
		humanize.Comma(int64(sum.Valid)), humanize.Comma(int64(sum.Total)),
		sum.RateValid, sum.RateTotal, sum.Duration, unit)
	for _, reason := range []telemetry.RejectReason{telemetry.RejectBelowThreshold, telemetry.RejectAboveThreshold, telemetry.RejectDegenerate} {
		if count := st.Rejected[reason]; count > 0 {
			fmt.Fprintf(w, "  rejected %s: %s\n", reason, humanize.Comma(int64(count)))
		}
	}
}

func serve(ctx context.Context, store *db.DB, addr string) error {
	mux := http.NewServeMux()
	if err := store.AttachAdminRoutes(mux); err != nil {
		return err
	}
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("failed to shutdown server: %v", err)
		}
	}()

	log.Printf("serving admin routes on %s/debug/", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

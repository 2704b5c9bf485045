// Package pipeline runs a complete capture through the four telemetry
// stages: scan, decode, demultiplex and calibrate.
//
// Scanning is sequential. Decoding and calibration are pure per-frame
// functions and run on a bounded worker pool, each worker writing into its
// own slots of a pre-sized slice, so results keep frame order without
// locking. Demultiplexing is stateful and runs on the calling goroutine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/lexi.report/internal/monitoring"
	"github.com/banshee-data/lexi.report/internal/telemetry"
	"github.com/banshee-data/lexi.report/internal/telemetry/calib"
	"github.com/banshee-data/lexi.report/internal/telemetry/decode"
	"github.com/banshee-data/lexi.report/internal/telemetry/hkdemux"
	"github.com/banshee-data/lexi.report/internal/telemetry/l1frames"
)

// Options configures one run.
type Options struct {
	Decoder decode.Decoder
	// Engine calibrates science events. Nil skips calibration.
	Engine *calib.Engine
	// Workers bounds decode and calibration parallelism; <= 0 uses
	// GOMAXPROCS.
	Workers int
}

// Stats summarises a run.
type Stats struct {
	Scan         l1frames.Stats
	Science      int
	Housekeeping int
	FramingDrops int // frames that failed the marker re-check in decode
	ValidEvents  int
	Rejected     map[telemetry.RejectReason]int
	Elapsed      time.Duration
}

// Result holds every ordered output sequence of a run.
type Result struct {
	Packets      []telemetry.Packet
	Science      []telemetry.ScienceEvent
	Housekeeping []telemetry.HousekeepingSample
	HKRows       []telemetry.HousekeepingRow
	Events       []telemetry.DetectorEvent
	Stats        Stats
}

// minChunk keeps tiny captures from being split into goroutine-sized slivers.
const minChunk = 256

// Run decodes buf. Framing problems and truncation never fail a run; an
// out-of-range HK id or cancellation of ctx does.
func Run(ctx context.Context, buf []byte, opts Options) (*Result, error) {
	start := time.Now()
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	frames, scanStats := l1frames.Collect(buf)
	if scanStats.Resyncs > 0 || scanStats.TruncatedTail > 0 {
		monitoring.Debugf("scan: %d resyncs, %d slip bytes, %d-byte truncated tail",
			scanStats.Resyncs, scanStats.SkippedBytes, scanStats.TruncatedTail)
	}

	decoded, err := decodeFrames(ctx, frames, opts.Decoder, workers)
	if err != nil {
		return nil, err
	}

	res := &Result{Stats: Stats{Scan: scanStats}}
	res.Packets = make([]telemetry.Packet, 0, len(decoded))
	for _, p := range decoded {
		switch v := p.(type) {
		case nil:
			res.Stats.FramingDrops++
			continue
		case telemetry.ScienceEvent:
			res.Science = append(res.Science, v)
		case telemetry.HousekeepingSample:
			res.Housekeeping = append(res.Housekeeping, v)
		}
		res.Packets = append(res.Packets, p)
	}
	res.Stats.Science = len(res.Science)
	res.Stats.Housekeeping = len(res.Housekeeping)

	res.HKRows, err = hkdemux.Demultiplex(res.Housekeeping)
	if err != nil {
		return nil, fmt.Errorf("demultiplex housekeeping: %w", err)
	}

	if opts.Engine != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Events = opts.Engine.CalibrateAll(res.Science, workers)
		res.Stats.Rejected = make(map[telemetry.RejectReason]int)
		for _, ev := range res.Events {
			if ev.Valid {
				res.Stats.ValidEvents++
				continue
			}
			res.Stats.Rejected[ev.Reason]++
		}
	}

	res.Stats.Elapsed = time.Since(start)
	monitoring.Logf("pipeline: %d frames (%d science, %d housekeeping), %d valid events in %v",
		len(frames), res.Stats.Science, res.Stats.Housekeeping, res.Stats.ValidEvents, res.Stats.Elapsed)
	return res, nil
}

// decodeFrames decodes frames in parallel. Slots for frames that fail the
// marker re-check stay nil.
func decodeFrames(ctx context.Context, frames []telemetry.RawFrame, dec decode.Decoder, workers int) ([]telemetry.Packet, error) {
	out := make([]telemetry.Packet, len(frames))
	if len(frames) == 0 {
		return out, ctx.Err()
	}

	chunk := max((len(frames)+workers-1)/workers, minChunk)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < len(frames); lo += chunk {
		hi := min(lo+chunk, len(frames))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if i%minChunk == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				p, err := dec.Decode(frames[i])
				if err != nil {
					if errors.Is(err, telemetry.ErrFraming) {
						monitoring.Debugf("decode: %v", err)
						continue
					}
					return err
				}
				out[i] = p
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeAll scans and decodes buf sequentially. Frames that fail the
// marker re-check are dropped; any other decode error is returned.
func DecodeAll(buf []byte, dec decode.Decoder) ([]telemetry.Packet, error) {
	var packets []telemetry.Packet
	for f := range l1frames.Scan(buf) {
		p, err := dec.Decode(f)
		if err != nil {
			if errors.Is(err, telemetry.ErrFraming) {
				continue
			}
			return nil, err
		}
		packets = append(packets, p)
	}
	return packets, nil
}

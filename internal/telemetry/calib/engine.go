// Package calib turns science events into detector-plane positions.
//
// Each event is gated on pulse height, reduced to two charge-division
// ratios, corrected by an affine alignment transform and scaled to physical
// units. The engine holds no per-event state, so events may be calibrated
// concurrently.
package calib

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/lexi.report/internal/telemetry"
)

// Engine calibrates science events with one immutable configuration.
type Engine struct {
	cfg    Config
	offset *mat.VecDense
	corr   *mat.Dense
}

// NewEngine validates cfg and prepares the correction transform.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("calibration config: %w", err)
	}

	corr := mat.NewDense(2, 2, []float64{
		cfg.Matrix[0][0], cfg.Matrix[0][1],
		cfg.Matrix[1][0], cfg.Matrix[1][1],
	})
	if cfg.Distortion != nil {
		d := cfg.Distortion
		dist := mat.NewDense(2, 2, []float64{d[0][0], d[0][1], d[1][0], d[1][1]})
		var inv mat.Dense
		if err := inv.Inverse(dist); err != nil {
			return nil, fmt.Errorf("invert distortion matrix: %w", err)
		}
		corr = &inv
		cfg.Matrix = [2][2]float64{
			{inv.At(0, 0), inv.At(0, 1)},
			{inv.At(1, 0), inv.At(1, 1)},
		}
	}

	return &Engine{
		cfg:    cfg,
		offset: mat.NewVecDense(2, []float64{cfg.Offset[0], cfg.Offset[1]}),
		corr:   corr,
	}, nil
}

// Config returns the effective configuration. When a distortion matrix was
// supplied, Matrix holds its inverse.
func (e *Engine) Config() Config { return e.cfg }

// Calibrate computes the detector position of ev. Rejected events come back
// with Valid false and a Reason; no error is returned.
func (e *Engine) Calibrate(ev telemetry.ScienceEvent) telemetry.DetectorEvent {
	out := telemetry.DetectorEvent{Timestamp: ev.Timestamp, Commanded: ev.Commanded}

	v := e.volts(ev)
	for _, x := range v {
		if !(x > e.cfg.Low) {
			out.Reason = telemetry.RejectBelowThreshold
			return out
		}
		if !(x < e.cfg.High) {
			out.Reason = telemetry.RejectAboveThreshold
			return out
		}
	}
	for i := range v {
		v[i] -= e.cfg.Baseline[i]
	}

	u, okU := ratio(v[0], v[1])
	w, okW := ratio(v[2], v[3])
	if !okU || !okW {
		out.Reason = telemetry.RejectDegenerate
		return out
	}

	pos := mat.NewVecDense(2, []float64{u, w})
	pos.SubVec(pos, e.offset)
	var corrected mat.VecDense
	corrected.MulVec(e.corr, pos)
	corrected.ScaleVec(e.cfg.Scale, &corrected)

	out.X = corrected.AtVec(0)
	out.Y = corrected.AtVec(1)
	out.Valid = true
	return out
}

// Err maps a rejected event's reason to the matching sentinel error.
func Err(ev telemetry.DetectorEvent) error {
	if ev.Valid {
		return nil
	}
	if ev.Reason == telemetry.RejectDegenerate {
		return telemetry.ErrDegenerateGeometry
	}
	return fmt.Errorf("event rejected: %s", ev.Reason)
}

func (e *Engine) volts(ev telemetry.ScienceEvent) [telemetry.ChannelCount]float64 {
	v := ev.Volts()
	for i, vpc := range e.cfg.ChannelVoltsPerCount {
		if vpc != 0 {
			v[i] = float64(ev.Channels[i].Counts) * vpc
		}
	}
	return v
}

func ratio(a, b float64) (float64, bool) {
	sum := a + b
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return 0, false
	}
	r := a / sum
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	return r, true
}

// CalibrateAll calibrates events with up to workers goroutines. The output
// has the same order and length as events. workers <= 0 uses GOMAXPROCS.
func (e *Engine) CalibrateAll(events []telemetry.ScienceEvent, workers int) []telemetry.DetectorEvent {
	out := make([]telemetry.DetectorEvent, len(events))
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(events) {
		workers = len(events)
	}
	if workers <= 1 {
		for i, ev := range events {
			out[i] = e.Calibrate(ev)
		}
		return out
	}

	chunk := (len(events) + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < len(events); start += chunk {
		end := min(start+chunk, len(events))
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			for i := lo; i < hi; i++ {
				out[i] = e.Calibrate(events[i])
			}
		}(start, end)
	}
	wg.Wait()
	return out
}

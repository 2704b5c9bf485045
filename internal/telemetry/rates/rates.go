// Package rates bins calibrated detector events into per-second count rates
// and summarises a capture's total, valid and region-of-interest rates.
package rates

import (
	"slices"

	"github.com/banshee-data/lexi.report/internal/telemetry"
	"github.com/banshee-data/lexi.report/internal/units"
)

// Bin counts the events whose timestamp falls in one whole MET second.
type Bin struct {
	Second uint32 `json:"second"`
	All    int    `json:"all"`
	Valid  int    `json:"valid"`
}

// Region is an open rectangle on the detector plane.
type Region struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

// Contains reports whether (x, y) lies strictly inside r.
func (r Region) Contains(x, y float64) bool {
	return x > r.MinX && x < r.MaxX && y > r.MinY && y < r.MaxY
}

// Options selects which events are counted.
type Options struct {
	ExcludeCommanded bool    // drop test-pulse events
	ROI              *Region // signal region; nil disables the signal rate
}

func (o Options) keep(ev telemetry.DetectorEvent) bool {
	return !(o.ExcludeCommanded && ev.Commanded)
}

// Bins groups events by whole second, ascending. The All counts sum to the
// number of kept events.
func Bins(events []telemetry.DetectorEvent, opts Options) []Bin {
	idx := make(map[uint32]int)
	var bins []Bin
	for _, ev := range events {
		if !opts.keep(ev) {
			continue
		}
		sec := ev.Timestamp / 1000
		i, ok := idx[sec]
		if !ok {
			i = len(bins)
			idx[sec] = i
			bins = append(bins, Bin{Second: sec})
		}
		bins[i].All++
		if ev.Valid {
			bins[i].Valid++
		}
	}
	slices.SortFunc(bins, func(a, b Bin) int { return int(int64(a.Second) - int64(b.Second)) })
	return bins
}

// Summary is the whole-capture count-rate summary.
type Summary struct {
	Total    int     `json:"total"`
	Valid    int     `json:"valid"`
	Signal   int     `json:"signal"`     // valid events inside the ROI
	Duration float64 `json:"duration_s"` // seconds from the first event to the latest
	// Rates in counts per second; zero when Duration is zero.
	RateTotal  float64 `json:"rate_total"`
	RateValid  float64 `json:"rate_valid"`
	RateSignal float64 `json:"rate_signal"`
}

// Summarize computes the count-rate summary of events. Duration runs from
// the first kept event to the latest timestamp seen, so out-of-order events
// cannot shorten it.
func Summarize(events []telemetry.DetectorEvent, opts Options) Summary {
	var s Summary
	var first, last uint32
	for _, ev := range events {
		if !opts.keep(ev) {
			continue
		}
		if s.Total == 0 {
			first, last = ev.Timestamp, ev.Timestamp
		}
		last = max(last, ev.Timestamp)
		s.Total++
		if !ev.Valid {
			continue
		}
		s.Valid++
		if opts.ROI != nil && opts.ROI.Contains(ev.X, ev.Y) {
			s.Signal++
		}
	}
	if s.Total == 0 {
		return s
	}

	s.Duration = units.METSeconds(last) - units.METSeconds(first)
	if s.Duration > 0 {
		s.RateTotal = float64(s.Total) / s.Duration
		s.RateValid = float64(s.Valid) / s.Duration
		s.RateSignal = float64(s.Signal) / s.Duration
	}
	return s
}

// Package hkdemux rebuilds dense housekeeping rows from the round-robin HK
// stream. Each HK packet carries one of 16 quantities; the demultiplexer
// holds the last value seen for every quantity and emits a full snapshot per
// sample.
package hkdemux

import (
	"fmt"
	"iter"

	"github.com/banshee-data/lexi.report/internal/telemetry"
)

// Demux holds the carry-forward state of one decoding session. It is not
// safe for concurrent use; samples must be pushed in frame order.
type Demux struct {
	lastKnown [telemetry.HKChannelCount]telemetry.Reading
	pushed    int
}

// New returns a demultiplexer with every quantity absent.
func New() *Demux { return &Demux{} }

// Push records sample and returns the snapshot taken after it.
func (d *Demux) Push(s telemetry.HousekeepingSample) (telemetry.HousekeepingRow, error) {
	if !s.ID.Valid() {
		return telemetry.HousekeepingRow{}, fmt.Errorf("%w: %d", telemetry.ErrInvalidChannelID, s.ID)
	}
	d.lastKnown[s.ID] = telemetry.Reading{Value: s.Value, Valid: true}
	d.pushed++

	return telemetry.HousekeepingRow{
		Timestamp:    s.Timestamp,
		Source:       s.ID,
		Values:       d.lastKnown,
		DeltaEvents:  s.DeltaEvents,
		DeltaDropped: s.DeltaDropped,
		DeltaLost:    s.DeltaLost,
	}, nil
}

// Snapshot returns the current carry-forward state without pushing.
func (d *Demux) Snapshot() [telemetry.HKChannelCount]telemetry.Reading {
	return d.lastKnown
}

// Pushed is the number of samples accepted since the last Reset.
func (d *Demux) Pushed() int { return d.pushed }

// Reset starts a new session.
func (d *Demux) Reset() {
	d.lastKnown = [telemetry.HKChannelCount]telemetry.Reading{}
	d.pushed = 0
}

// Rows pushes every sample of seq and yields the resulting rows. Iteration
// stops after the first error.
func (d *Demux) Rows(seq iter.Seq[telemetry.HousekeepingSample]) iter.Seq2[telemetry.HousekeepingRow, error] {
	return func(yield func(telemetry.HousekeepingRow, error) bool) {
		for s := range seq {
			row, err := d.Push(s)
			if !yield(row, err) || err != nil {
				return
			}
		}
	}
}

// Demultiplex runs a fresh session over samples and returns all rows.
func Demultiplex(samples []telemetry.HousekeepingSample) ([]telemetry.HousekeepingRow, error) {
	d := New()
	rows := make([]telemetry.HousekeepingRow, 0, len(samples))
	for _, s := range samples {
		row, err := d.Push(s)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Package l1frames owns Layer 1 (Frames) of the telemetry model: locating
// 16-byte frame boundaries in a raw capture via the sync marker.
//
// The scanner never assumes alignment beyond what the marker confirms. After
// a frame it expects the next marker immediately; if it is not there the
// scanner falls back to a byte-by-byte search (resync).
package l1frames

import (
	"bytes"
	"iter"

	"github.com/banshee-data/lexi.report/internal/telemetry"
)

// Stats counts what one pass over a capture saw.
type Stats struct {
	Frames        int // frames emitted
	Resyncs       int // times the marker was not at the expected offset
	SkippedBytes  int // bytes discarded while searching for a marker
	TruncatedTail int // bytes of a partial trailing frame that was dropped
}

// Scanner produces RawFrame candidates from a byte buffer. The buffer is not
// copied; frames are copied out as they are emitted.
//
// A Scanner is not safe for concurrent use. Each range over Frames resets
// the counters returned by Stats.
type Scanner struct {
	buf   []byte
	stats Stats
}

// NewScanner creates a scanner over buf.
func NewScanner(buf []byte) *Scanner {
	return &Scanner{buf: buf}
}

// Stats returns counters for the most recent pass.
func (s *Scanner) Stats() Stats { return s.stats }

// Frames returns the frame sequence. Each range over the sequence restarts at
// offset 0 and resets Stats; stopping early has no other effect.
func (s *Scanner) Frames() iter.Seq[telemetry.RawFrame] {
	return func(yield func(telemetry.RawFrame) bool) {
		s.stats = Stats{}
		buf := s.buf
		pos := 0
		for pos < len(buf) {
			if !hasSync(buf[pos:]) {
				next := nextSync(buf, pos)
				if next < 0 {
					// No further marker; the rest is slip or a partial marker.
					s.stats.SkippedBytes += len(buf) - pos
					return
				}
				s.stats.Resyncs++
				s.stats.SkippedBytes += next - pos
				pos = next
			}

			if pos+telemetry.FrameSize > len(buf) {
				s.stats.TruncatedTail = len(buf) - pos
				return
			}

			f := telemetry.RawFrame{Offset: pos}
			copy(f.Bytes[:], buf[pos:pos+telemetry.FrameSize])
			s.stats.Frames++
			if !yield(f) {
				return
			}
			pos += telemetry.FrameSize
		}
	}
}

// Scan is shorthand for NewScanner(buf).Frames().
func Scan(buf []byte) iter.Seq[telemetry.RawFrame] {
	return NewScanner(buf).Frames()
}

// Collect scans buf to the end and returns every frame with the pass stats.
func Collect(buf []byte) ([]telemetry.RawFrame, Stats) {
	s := NewScanner(buf)
	frames := make([]telemetry.RawFrame, 0, len(buf)/telemetry.FrameSize)
	for f := range s.Frames() {
		frames = append(frames, f)
	}
	return frames, s.Stats()
}

func hasSync(b []byte) bool {
	return len(b) >= telemetry.SyncSize && bytes.Equal(b[:telemetry.SyncSize], telemetry.SyncBytes[:])
}

// nextSync returns the offset of the next marker at or after from, or -1.
func nextSync(buf []byte, from int) int {
	i := bytes.Index(buf[from:], telemetry.SyncBytes[:])
	if i < 0 {
		return -1
	}
	return from + i
}

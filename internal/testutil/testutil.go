// Package testutil provides shared test utilities and telemetry fixtures.
//
// The frame builders produce bit-exact 16-byte LEXI frames so that tests in
// every layer can describe captures by content rather than by hex dumps.
package testutil

import (
	"encoding/binary"

	"github.com/banshee-data/lexi.report/internal/telemetry"
)

// VoltsPerCount is the LEXI housekeeping ADC scale used in fixtures.
const VoltsPerCount = 0.00006881

// ScienceFrame builds a science event frame.
func ScienceFrame(ts uint32, commanded bool, counts [4]uint16) []byte {
	word := ts & telemetry.TimestampMask
	if commanded {
		word |= 1 << 30
	}
	return frame(word, counts)
}

// HKFrame builds a housekeeping frame using the default status layout
// (id in bits 15..12, raw value in bits 11..0).
func HKFrame(ts uint32, id uint8, raw uint16, events, dropped, lost uint16) []byte {
	status := uint16(id&0x0F)<<12 | raw&0x0FFF
	return frame(1<<31|ts&telemetry.TimestampMask, [4]uint16{status, events, dropped, lost})
}

// RawWordFrame builds a frame from an arbitrary type word and fields.
func RawWordFrame(word uint32, fields [4]uint16) []byte {
	return frame(word, fields)
}

func frame(word uint32, fields [4]uint16) []byte {
	b := make([]byte, telemetry.FrameSize)
	copy(b[0:4], telemetry.SyncBytes[:])
	binary.BigEndian.PutUint32(b[4:8], word)
	for i, f := range fields {
		binary.BigEndian.PutUint16(b[8+2*i:10+2*i], f)
	}
	return b
}

// Concat joins frames and filler into one capture buffer.
func Concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Slip returns n filler bytes that can never form a sync marker.
func Slip(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xAA
	}
	return b
}

// CountsForVolts returns the ADC counts closest to v at the given scale.
func CountsForVolts(v, voltsPerCount float64) uint16 {
	return uint16(v/voltsPerCount + 0.5)
}

package telemetry

import (
	"errors"
	"fmt"
)

var (
	// ErrFraming: the sync marker did not match where a frame was expected.
	// The scanner recovers by resynchronising; it is never fatal.
	ErrFraming = errors.New("telemetry: sync marker mismatch")
	// ErrTruncatedFrame: fewer than 16 bytes remain. The scanner drops the
	// partial frame and ends the stream normally.
	ErrTruncatedFrame = errors.New("telemetry: truncated frame")
	// ErrInvalidChannelID: an HK id outside 0..15. Only a malformed layout
	// or synthetic input can produce it; it aborts the decode.
	ErrInvalidChannelID = errors.New("telemetry: housekeeping id out of range")
	// ErrDegenerateGeometry: zero or non-finite channel sum during position
	// calibration. The event is marked invalid.
	ErrDegenerateGeometry = errors.New("telemetry: degenerate channel sum")
)

// DecodeError ties a decode failure to the frame that produced it.
type DecodeError struct {
	Offset int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

package telemetry

import "fmt"

// Wire format constants for the LEXI telemetry stream.
const (
	SyncMarker uint32 = 0xFE6B2840 // big-endian frame start marker
	SyncSize          = 4          // bytes occupied by the sync marker
	FrameSize         = 16         // fixed frame length in bytes
	FieldCount        = 4          // 16-bit fields in bytes 8..15
	ChannelCount      = 4          // science readout channels
	HKChannelCount    = 16         // housekeeping quantities (4-bit id)

	// TimestampMask selects the 30-bit millisecond mission elapsed time.
	TimestampMask uint32 = 0x3FFFFFFF
)

// SyncBytes is SyncMarker in wire order.
var SyncBytes = [SyncSize]byte{0xFE, 0x6B, 0x28, 0x40}

// RawFrame is one 16-byte frame candidate located by the scanner.
type RawFrame struct {
	Offset int             // byte offset of the sync marker in the capture
	Bytes  [FrameSize]byte // frame contents including the sync marker
}

// Packet is a decoded frame. The two variants are ScienceEvent and
// HousekeepingSample; the set is closed.
type Packet interface {
	// MET returns the 30-bit millisecond timestamp.
	MET() uint32
	packet()
}

// Channel is one science readout channel.
type Channel struct {
	Counts uint16  // raw ADC counts
	Volts  float64 // Counts scaled by the volts-per-count constant
}

// ScienceEvent is a particle/X-ray detection with four charge-division
// channel readings.
type ScienceEvent struct {
	Timestamp uint32 // ms, 30 bits
	Commanded bool   // bit 30 of the type word: commanded (test-pulse) event
	Channels  [ChannelCount]Channel
}

func (e ScienceEvent) MET() uint32 { return e.Timestamp }
func (ScienceEvent) packet()       {}

// Volts returns the four channel voltages in channel order.
func (e ScienceEvent) Volts() [ChannelCount]float64 {
	var v [ChannelCount]float64
	for i, ch := range e.Channels {
		v[i] = ch.Volts
	}
	return v
}

// HousekeepingSample carries exactly one of the 16 multiplexed HK
// quantities plus the event counters accumulated since the previous HK
// packet.
type HousekeepingSample struct {
	Timestamp    uint32  // ms, 30 bits
	ID           HKID    // which quantity this sample carries
	Status       uint16  // undecoded status word
	Raw          uint16  // 12-bit raw value
	Value        float64 // engineering value, unit given by ID.Unit()
	DeltaEvents  uint16  // events since last HK packet
	DeltaDropped uint16  // events dropped by the threshold test
	DeltaLost    uint16  // events lost to FIFO overflow
}

func (s HousekeepingSample) MET() uint32 { return s.Timestamp }
func (HousekeepingSample) packet()       {}

// Reading is one carried-forward housekeeping slot. Valid is false until
// the quantity has been observed at least once.
type Reading struct {
	Value float64
	Valid bool
}

// HousekeepingRow is a dense snapshot of all 16 HK quantities at the
// timestamp of one housekeeping sample.
type HousekeepingRow struct {
	Timestamp    uint32
	Source       HKID // quantity updated by the sample that produced this row
	Values       [HKChannelCount]Reading
	DeltaEvents  uint16
	DeltaDropped uint16
	DeltaLost    uint16
}

// Get returns the reading for id.
func (r HousekeepingRow) Get(id HKID) Reading {
	if !id.Valid() {
		return Reading{}
	}
	return r.Values[id]
}

// DetectorEvent is the calibrated detector-plane position of one science
// event. X and Y are meaningful only when Valid is true.
type DetectorEvent struct {
	Timestamp uint32
	Commanded bool
	X, Y      float64
	Valid     bool
	Reason    RejectReason
}

// RejectReason records why a DetectorEvent is invalid.
type RejectReason uint8

const (
	Accepted RejectReason = iota
	RejectBelowThreshold
	RejectAboveThreshold
	RejectDegenerate
)

func (r RejectReason) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case RejectBelowThreshold:
		return "below_threshold"
	case RejectAboveThreshold:
		return "above_threshold"
	case RejectDegenerate:
		return "degenerate_geometry"
	default:
		return fmt.Sprintf("reject(%d)", uint8(r))
	}
}

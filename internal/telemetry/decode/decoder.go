// Package decode classifies LEXI frames and decodes their bit-packed fields.
//
// Bit 31 of the type word selects the family: 0 is a science event, 1 is a
// housekeeping sample. Science frames carry four raw ADC channel counts;
// housekeeping frames carry one multiplexed quantity in a status word plus
// three event counters. Decoding is a pure function of the frame bytes and
// the Decoder configuration, so frames can be decoded in any order or in
// parallel.
package decode

import (
	"fmt"

	"github.com/banshee-data/lexi.report/internal/telemetry"
)

// DefaultVoltsPerCount is the LEXI ADC scale for housekeeping and science
// channel conversion.
const DefaultVoltsPerCount = 0.00006881

// thermistorOffset and thermistorGain convert a thermistor voltage into the
// instrument's centigrade-like temperature scale.
const (
	thermistorOffset = 2.73
	thermistorGain   = 100.0
)

// Decoder holds the immutable conversion settings for one pipeline run.
type Decoder struct {
	VoltsPerCount float64
	Layout        StatusLayout
}

// New returns a decoder with the default status layout.
func New(voltsPerCount float64) Decoder {
	return Decoder{VoltsPerCount: voltsPerCount, Layout: DefaultStatusLayout}
}

// Decode classifies and decodes one frame. A frame whose first four bytes
// are not the sync marker fails with telemetry.ErrFraming; an HK id outside
// 0..15 fails with telemetry.ErrInvalidChannelID. Both are wrapped in a
// *telemetry.DecodeError carrying the frame offset.
func (d Decoder) Decode(f telemetry.RawFrame) (telemetry.Packet, error) {
	p, err := d.decode(f.Bytes[:])
	if err != nil {
		return nil, &telemetry.DecodeError{Offset: f.Offset, Err: err}
	}
	return p, nil
}

// DecodeBytes decodes an arbitrary byte slice, which must be exactly one
// frame long.
func (d Decoder) DecodeBytes(b []byte) (telemetry.Packet, error) {
	if len(b) < telemetry.FrameSize {
		return nil, fmt.Errorf("%w: have %d bytes", telemetry.ErrTruncatedFrame, len(b))
	}
	if len(b) > telemetry.FrameSize {
		return nil, fmt.Errorf("decode: frame is %d bytes, want %d", len(b), telemetry.FrameSize)
	}
	return d.decode(b)
}

func (d Decoder) decode(b []byte) (telemetry.Packet, error) {
	if sw := syncWord(b); sw != telemetry.SyncMarker {
		return nil, fmt.Errorf("%w: got 0x%08X", telemetry.ErrFraming, sw)
	}

	word := typeWord(b)
	if IsHousekeeping(word) {
		s, err := d.housekeeping(word, b)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return d.science(word, b), nil
}

func (d Decoder) science(word uint32, b []byte) telemetry.ScienceEvent {
	ev := telemetry.ScienceEvent{
		Timestamp: MET(word),
		Commanded: IsCommanded(word),
	}
	for i := range ev.Channels {
		c := field(b, i)
		ev.Channels[i] = telemetry.Channel{Counts: c, Volts: float64(c) * d.VoltsPerCount}
	}
	return ev
}

func (d Decoder) housekeeping(word uint32, b []byte) (telemetry.HousekeepingSample, error) {
	status := field(b, 0)
	id, raw := d.Layout.Split(status)
	if !id.Valid() {
		return telemetry.HousekeepingSample{}, fmt.Errorf("%w: %d", telemetry.ErrInvalidChannelID, id)
	}
	return telemetry.HousekeepingSample{
		Timestamp:    MET(word),
		ID:           id,
		Status:       status,
		Raw:          raw,
		Value:        d.Engineering(id, raw),
		DeltaEvents:  field(b, 1),
		DeltaDropped: field(b, 2),
		DeltaLost:    field(b, 3),
	}, nil
}

// Engineering converts a raw HK value into engineering units for id.
func (d Decoder) Engineering(id telemetry.HKID, raw uint16) float64 {
	switch id.Conversion() {
	case telemetry.ConvThermistor:
		return (float64(raw)*d.VoltsPerCount - thermistorOffset) * thermistorGain
	case telemetry.ConvVolts:
		return float64(raw) * d.VoltsPerCount
	default:
		return float64(raw)
	}
}

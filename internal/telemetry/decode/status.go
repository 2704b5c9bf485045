package decode

import "github.com/banshee-data/lexi.report/internal/telemetry"

// StatusLayout describes where the HK id and raw value sit in the status
// word. Two readings of the status word exist in the ground tools, so the
// alignment of the raw value is configuration rather than a constant.
type StatusLayout struct {
	IDShift    uint   // right shift that brings the id to bit 0
	IDMask     uint16 // mask applied after the shift
	ValueMask  uint16 // mask selecting the raw value bits
	ValueShift uint   // left shift applied to the masked value
}

// DefaultStatusLayout: id in bits 15..12, raw value in bits 11..0.
var DefaultStatusLayout = StatusLayout{IDShift: 12, IDMask: 0x0F, ValueMask: 0x0FFF}

// ShiftedStatusLayout is the alternate reading that left-shifts the masked
// value by 4 bits, giving a 16-bit full-scale raw value.
var ShiftedStatusLayout = StatusLayout{IDShift: 12, IDMask: 0x0F, ValueMask: 0x0FFF, ValueShift: 4}

func (l StatusLayout) orDefault() StatusLayout {
	if l.IDMask == 0 && l.ValueMask == 0 {
		return DefaultStatusLayout
	}
	return l
}

// Split extracts the id and raw value from a status word.
func (l StatusLayout) Split(status uint16) (telemetry.HKID, uint16) {
	l = l.orDefault()
	id := (status >> l.IDShift) & l.IDMask
	raw := (status & l.ValueMask) << l.ValueShift
	return telemetry.HKID(id), raw
}

// MCPStatus is the alternate view of the status word used for MCP high
// voltage change packets.
type MCPStatus struct {
	HVChanged bool   // bit15: 1 = MCP HV changed, 0 = periodic 1 s packet
	Auto      bool   // bit14: auto HV change (meaningful only if HVChanged)
	Setting   uint16 // bits 11..0: HV setting if HVChanged, else thermistor data
}

// ParseMCPStatus decodes the status word of a housekeeping sample in the MCP
// view.
func ParseMCPStatus(status uint16) MCPStatus {
	changed := status&0x8000 != 0
	return MCPStatus{
		HVChanged: changed,
		Auto:      changed && status&0x4000 != 0,
		Setting:   status & 0x0FFF,
	}
}

package telemetry

import "fmt"

// HKID identifies one of the 16 housekeeping quantities multiplexed onto the
// status word of HK packets.
type HKID uint8

const (
	HKPinPullerTemp HKID = iota
	HKOpticsTemp
	HKBaseTemp
	HKHVSupplyTemp
	HKImon5V2
	HKImon10V
	HKImon3V3
	HKAnodeVoltMon
	HKImon28V
	HKADCGround
	HKCmdCount
	HKPinPullerArmed
	HKUnused12
	HKUnused13
	HKHVMCPAuto
	HKHVMCPManual
)

// Conversion selects how a raw 12-bit HK value becomes an engineering value.
type Conversion uint8

const (
	// ConvThermistor: (raw*vpc - 2.73) * 100, chassis temperatures.
	ConvThermistor Conversion = iota
	// ConvVolts: raw*vpc, supply monitors and MCP HV readbacks.
	ConvVolts
	// ConvRaw: the raw integer, counters and flags.
	ConvRaw
	// ConvReserved: reserved slot, kept as the raw integer.
	ConvReserved
)

type hkInfo struct {
	name string
	unit string
	conv Conversion
}

var hkTable = [HKChannelCount]hkInfo{
	HKPinPullerTemp:  {"PinPullerTemp", "degC", ConvThermistor},
	HKOpticsTemp:     {"OpticsTemp", "degC", ConvThermistor},
	HKBaseTemp:       {"LEXIbaseTemp", "degC", ConvThermistor},
	HKHVSupplyTemp:   {"HVsupplyTemp", "V", ConvVolts},
	HKImon5V2:        {"+5.2V_Imon", "V", ConvVolts},
	HKImon10V:        {"+10V_Imon", "V", ConvVolts},
	HKImon3V3:        {"+3.3V_Imon", "V", ConvVolts},
	HKAnodeVoltMon:   {"AnodeVoltMon", "V", ConvVolts},
	HKImon28V:        {"+28V_Imon", "V", ConvVolts},
	HKADCGround:      {"ADC_Ground", "V", ConvVolts},
	HKCmdCount:       {"Cmd_count", "", ConvRaw},
	HKPinPullerArmed: {"Pinpuller_Armed", "", ConvRaw},
	HKUnused12:       {"Unused12", "", ConvReserved},
	HKUnused13:       {"Unused13", "", ConvReserved},
	HKHVMCPAuto:      {"HVmcpAuto", "V", ConvVolts},
	HKHVMCPManual:    {"HVmcpMan", "V", ConvVolts},
}

// Valid reports whether id fits the 4-bit id field.
func (id HKID) Valid() bool { return id < HKChannelCount }

func (id HKID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("HKID(%d)", uint8(id))
	}
	return hkTable[id].name
}

// Unit is the engineering unit of the quantity ("" for counters and flags).
func (id HKID) Unit() string {
	if !id.Valid() {
		return ""
	}
	return hkTable[id].unit
}

// Conversion returns the raw-to-engineering rule for id.
func (id HKID) Conversion() Conversion {
	if !id.Valid() {
		return ConvReserved
	}
	return hkTable[id].conv
}

// HKIDs lists all housekeeping ids in wire order.
func HKIDs() []HKID {
	ids := make([]HKID, HKChannelCount)
	for i := range ids {
		ids[i] = HKID(i)
	}
	return ids
}

// ParseHKID looks an id up by its column name.
func ParseHKID(name string) (HKID, bool) {
	for i, info := range hkTable {
		if info.name == name {
			return HKID(i), true
		}
	}
	return 0, false
}

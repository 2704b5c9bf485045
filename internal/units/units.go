// Package units provides shared constants and validation for detector-plane
// length units and mission elapsed time.
package units

import (
	"strings"
	"time"
)

// Unit constants
const (
	CM   = "cm"
	MM   = "mm"
	IN   = "in"
	NORM = "norm" // dimensionless corrected ratio, no physical scale
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{CM, MM, IN, NORM}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertLength converts a length in centimetres to the target units.
// Calibration scales are stored in cm.
func ConvertLength(lengthCM float64, targetUnits string) float64 {
	switch targetUnits {
	case MM:
		return lengthCM * 10
	case IN:
		return lengthCM / 2.54
	default:
		return lengthCM // cm, and unknown units fall back to cm
	}
}

// METSeconds converts a millisecond mission elapsed time to seconds.
func METSeconds(ms uint32) float64 {
	return float64(ms) / 1000
}

// METDuration converts a millisecond mission elapsed time to a Duration.
func METDuration(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Package telemetry owns the shared data model of the LEXI telemetry stream.
//
// The instrument emits fixed 16-byte frames, each carrying either a science
// (X-ray / particle detection) event or one housekeeping sample. Raw bytes
// move through the layers in one direction:
//
//	l1frames (sync + framing) -> decode (classify + fields) ->
//	{hkdemux (carry-forward series) | calib (detector position)}
//
// Key types: RawFrame, Packet (ScienceEvent | HousekeepingSample),
// HousekeepingRow, DetectorEvent.
//
// Dependency rule: this package depends on nothing else in the module;
// every layer imports it for the types it passes on.
package telemetry

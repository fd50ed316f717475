// Package telemetry defines the wire-level event type pushed by ESPHome
// devices and the normalized reading derived from it.
//
// Devices report values as untyped JSON scalars (numbers, strings,
// booleans, null). Coerce converts any of these into a fixed-point
// decimal with two fractional digits, truncated toward zero, which is
// the unit everything downstream (recording deltas, group sums, stored
// records) operates on.
package telemetry

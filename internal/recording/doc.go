// Package recording decides which telemetry samples are worth
// persisting.
//
// Per source, a sample is recorded when it is the first sighting, when
// it moved by at least the configured delta since the last recorded
// value, or when the throttle window has elapsed since the last
// decision to record. Suppressed samples change no state, so slow
// drift keeps accumulating against the recorded baseline. A sample
// that merely re-states the baseline restarts the throttle window
// without producing a recording. Explicit state-change notifications
// bypass the policy entirely.
//
// Groups have no delta; the throttle window alone gates them.
package recording

package telemetry

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Event is a single decoded server-push payload from a device.
//
// The JSON field names match the ESPHome event stream; decoding is
// case-insensitive so Id/Value/Name/State/Event_Type all bind.
type Event struct {
	// ID is the source identifier (sensor-prefix + device + suffix).
	ID string `json:"id"`

	// Value is the untyped scalar reported by the device.
	// Use Coerce to normalize it.
	Value any `json:"value"`

	// Name is the human-readable sensor name reported on the wire.
	Name string `json:"name"`

	// State is the formatted state string (value plus unit).
	State string `json:"state"`

	// EventType is non-empty for explicit state-change notifications.
	// Periodic telemetry leaves it empty; an explicit notification
	// bypasses the recording throttle entirely.
	EventType string `json:"event_type"`

	// ReceivedAt is the local receive time in unix seconds.
	// Stamped by the stream client, never part of the wire payload.
	ReceivedAt int64 `json:"-"`
}

func (e Event) String() string {
	return fmt.Sprintf("id=%s value=%v event_type=%q received=%d", e.ID, e.Value, e.EventType, e.ReceivedAt)
}

// Explicit reports whether the event is an explicit state-change
// notification rather than periodic telemetry.
func (e Event) Explicit() bool {
	return e.EventType != ""
}

// Reading is a normalized telemetry sample: the coerced decimal value
// of an event, or a synthesized group aggregate.
type Reading struct {
	// SourceID is the source key for device readings, or the group ID
	// for synthesized group aggregates.
	SourceID string

	// Value is the fixed-point decimal value (two fractional digits for
	// coerced device values).
	Value decimal.Decimal

	// UnixSeconds is the sample timestamp.
	UnixSeconds int64

	// IsGroup marks readings synthesized by group aggregation.
	IsGroup bool
}

// Time returns the sample timestamp as a time.Time in the local zone.
func (r Reading) Time() time.Time {
	return time.Unix(r.UnixSeconds, 0)
}

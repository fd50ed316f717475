package telemetry

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCoerceStrings(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"truncates positive", "3.14159", "3.14"},
		{"truncates toward zero not nearest", "-3.145", "-3.14"},
		{"rounding boundary pulled back", "2.675", "2.67"},
		{"negative boundary pulled back", "-2.675", "-2.67"},
		{"round down stays", "1.231", "1.23"},
		{"exact two digits", "10.50", "10.5"},
		{"integer", "42", "42"},
		{"exponent notation", "1.5e2", "150"},
		{"negative exponent", "125e-3", "0.12"},
		{"boolean true", "true", "1"},
		{"boolean false", "false", "0"},
		{"garbage", "not-a-number", "0"},
		{"empty", "", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Coerce(tt.in)
			want := decimal.RequireFromString(tt.want)
			if !got.Equal(want) {
				t.Fatalf("Coerce(%q) = %s, want %s", tt.in, got, want)
			}
		})
	}
}

func TestCoerceNonStrings(t *testing.T) {
	if got := Coerce(nil); !got.IsZero() {
		t.Fatalf("Coerce(nil) = %s, want 0", got)
	}
	if got := Coerce(true); !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("Coerce(true) = %s, want 1", got)
	}
	if got := Coerce(false); !got.IsZero() {
		t.Fatalf("Coerce(false) = %s, want 0", got)
	}

	// JSON numbers arrive as float64 and pass through unmodified.
	if got := Coerce(float64(21.5)); !got.Equal(decimal.RequireFromString("21.5")) {
		t.Fatalf("Coerce(21.5) = %s, want 21.5", got)
	}
	if got := Coerce(json.Number("7.25")); !got.Equal(decimal.RequireFromString("7.25")) {
		t.Fatalf("Coerce(json.Number) = %s, want 7.25", got)
	}
	if got := Coerce(int64(-3)); !got.Equal(decimal.NewFromInt(-3)) {
		t.Fatalf("Coerce(int64) = %s, want -3", got)
	}
}

func TestCoerceDecodedEventValue(t *testing.T) {
	// End to end: the value field of a decoded wire event.
	var ev Event
	if err := json.Unmarshal([]byte(`{"Id":"sensor-a","Value":"19.999","Name":"power","State":"19.999 W"}`), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.ID != "sensor-a" {
		t.Fatalf("case-insensitive field binding failed: %+v", ev)
	}
	if got := Coerce(ev.Value); !got.Equal(decimal.RequireFromString("19.99")) {
		t.Fatalf("Coerce = %s, want 19.99", got)
	}
	if ev.Explicit() {
		t.Fatal("event without event_type must not be explicit")
	}
}

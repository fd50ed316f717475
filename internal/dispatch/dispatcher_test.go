package dispatch

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/esphive/esphive-core/internal/routing"
	"github.com/esphive/esphive-core/internal/telemetry"
)

func powerRoute(device string) *routing.Route {
	return &routing.Route{
		SourceKey:  "sensor-" + device + "_power",
		DeviceName: device,
		StatusName: "Power",
		Unit:       "W",
		Group: &routing.Group{
			ID:             "grp-power",
			Name:           "power",
			RecordThrottle: 30 * time.Second,
		},
	}
}

func reading(v string) telemetry.Reading {
	return telemetry.Reading{
		Value:       decimal.RequireFromString(v),
		UnixSeconds: 1700000000,
	}
}

func TestPublishDeliversToValueHandler(t *testing.T) {
	d := New()
	sub := d.Subscribe()

	var got Entry
	sub.OnValue("garage", "Power", func(e Entry) { got = e })

	d.Publish("ep", powerRoute("garage"), reading("12.5"), telemetry.Event{ID: "sensor-garage_power"})

	if !got.Value.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("handler value = %s, want 12.5", got.Value)
	}
	if got.Unit != "W" {
		t.Errorf("handler unit = %q", got.Unit)
	}
}

func TestPublishUpdatesCache(t *testing.T) {
	d := New()

	d.Publish("ep", powerRoute("garage"), reading("12.5"), telemetry.Event{})
	d.Publish("ep", powerRoute("garage"), reading("13"), telemetry.Event{})

	e, ok := d.Value("garage", "Power")
	if !ok {
		t.Fatal("cache miss for published key")
	}
	if !e.Value.Equal(decimal.RequireFromString("13")) {
		t.Errorf("cached value = %s, want latest 13", e.Value)
	}
}

func TestGroupSumAcrossMembers(t *testing.T) {
	d := New()

	d.Publish("ep", powerRoute("garage"), reading("12.5"), telemetry.Event{})
	d.Publish("ep", powerRoute("attic"), reading("7.25"), telemetry.Event{})

	sum := d.GroupSum("GRP-POWER")
	if !sum.Equal(decimal.RequireFromString("19.75")) {
		t.Errorf("group sum = %s, want 19.75", sum)
	}
}

func TestGroupSumEmptyGroupIsZero(t *testing.T) {
	d := New()
	if !d.GroupSum("nothing").IsZero() {
		t.Error("empty group sum must be zero")
	}
}

func TestPublishInvokesGroupHandler(t *testing.T) {
	d := New()
	sub := d.Subscribe()

	var gotID string
	var gotSum decimal.Decimal
	sub.OnGroup("GRP-Power", func(id string, sum decimal.Decimal) {
		gotID = id
		gotSum = sum
	})

	d.Publish("ep", powerRoute("garage"), reading("10"), telemetry.Event{})
	d.Publish("ep", powerRoute("attic"), reading("5"), telemetry.Event{})

	if gotID != "grp-power" {
		t.Errorf("group handler id = %q", gotID)
	}
	if !gotSum.Equal(decimal.RequireFromString("15")) {
		t.Errorf("group handler sum = %s, want 15", gotSum)
	}
}

func TestPublishSkipsGroupHandlerForUngroupedRoute(t *testing.T) {
	d := New()
	sub := d.Subscribe()

	called := false
	sub.OnGroup("grp-power", func(string, decimal.Decimal) { called = true })

	route := &routing.Route{DeviceName: "garage", StatusName: "Temperature", Unit: "°C"}
	d.Publish("ep", route, reading("21"), telemetry.Event{})

	if called {
		t.Error("group handler called for ungrouped route")
	}
}

func TestSubscribersRunInRegistrationOrder(t *testing.T) {
	d := New()
	var order []int

	for i := 0; i < 3; i++ {
		i := i
		sub := d.Subscribe()
		sub.OnValue("garage", "Power", func(Entry) { order = append(order, i) })
	}

	d.Publish("ep", powerRoute("garage"), reading("1"), telemetry.Event{})

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("delivery order = %v", order)
	}
}

func TestUnsubscribeClearsSlots(t *testing.T) {
	d := New()
	sub := d.Subscribe()

	called := false
	sub.OnValue("garage", "Power", func(Entry) { called = true })
	sub.OnRawText(func(string, string) { called = true })
	sub.OnError(func(string, error) { called = true })

	d.Unsubscribe(sub)

	d.Publish("ep", powerRoute("garage"), reading("1"), telemetry.Event{})
	d.PublishRawText("ep", "line")
	d.PublishError("ep", errors.New("boom"))

	if called {
		t.Error("unsubscribed handler was invoked")
	}
}

func TestPublishRawTextAndError(t *testing.T) {
	d := New()
	sub := d.Subscribe()

	var lines []string
	var errs []error
	sub.OnRawText(func(_ string, line string) { lines = append(lines, line) })
	sub.OnError(func(_ string, err error) { errs = append(errs, err) })

	d.PublishRawText("ep", "event: state")
	d.PublishError("ep", errors.New("stream down"))

	if len(lines) != 1 || lines[0] != "event: state" {
		t.Errorf("raw lines = %v", lines)
	}
	if len(errs) != 1 {
		t.Errorf("errors = %v", errs)
	}
}

func TestPublishDeliversWholeEvent(t *testing.T) {
	d := New()
	sub := d.Subscribe()

	var got telemetry.Event
	sub.OnEvent(func(_ string, ev telemetry.Event) { got = ev })

	d.Publish("ep", powerRoute("garage"), reading("1"), telemetry.Event{ID: "sensor-garage_power", State: "1 W"})

	if got.ID != "sensor-garage_power" {
		t.Errorf("event slot got %q", got.ID)
	}
}

func TestWildcardSlotsSeeEverything(t *testing.T) {
	d := New()
	sub := d.Subscribe()

	var entries []Entry
	var sums []decimal.Decimal
	sub.OnAnyValue(func(e Entry) { entries = append(entries, e) })
	sub.OnAnyGroup(func(_ string, sum decimal.Decimal) { sums = append(sums, sum) })

	d.Publish("ep", powerRoute("garage"), reading("10"), telemetry.Event{})
	d.Publish("ep", powerRoute("attic"), reading("5"), telemetry.Event{})

	if len(entries) != 2 {
		t.Fatalf("wildcard value deliveries = %d, want 2", len(entries))
	}
	if len(sums) != 2 || !sums[1].Equal(decimal.RequireFromString("15")) {
		t.Errorf("wildcard group deliveries = %v", sums)
	}
}

func TestSubscriptionIDsAreUnique(t *testing.T) {
	d := New()

	a := d.Subscribe()
	b := d.Subscribe()

	if a.ID() == b.ID() {
		t.Errorf("subscription ids collide: %s", a.ID())
	}
}

func TestValuesSorted(t *testing.T) {
	d := New()

	d.Publish("ep", powerRoute("zeta"), reading("1"), telemetry.Event{})
	d.Publish("ep", powerRoute("alpha"), reading("2"), telemetry.Event{})

	vals := d.Values()
	if len(vals) != 2 || vals[0].Device != "alpha" || vals[1].Device != "zeta" {
		t.Errorf("Values order = %v", vals)
	}
}

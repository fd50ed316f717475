package ingest

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/esphive/esphive-core/internal/dispatch"
	"github.com/esphive/esphive-core/internal/infrastructure/config"
	"github.com/esphive/esphive-core/internal/infrastructure/logging"
	"github.com/esphive/esphive-core/internal/persist"
	"github.com/esphive/esphive-core/internal/recording"
	"github.com/esphive/esphive-core/internal/routing"
	"github.com/esphive/esphive-core/internal/telemetry"
)

// ─── Test Fixture ───────────────────────────────────────────────────────────

type captureQueue struct {
	mu    sync.Mutex
	items []persist.Item
}

func (q *captureQueue) Enqueue(item persist.Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *captureQueue) values() []persist.ValueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []persist.ValueItem
	for _, it := range q.items {
		if v, ok := it.(persist.ValueItem); ok {
			out = append(out, v)
		}
	}
	return out
}

func (q *captureQueue) errors() []persist.ErrorItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []persist.ErrorItem
	for _, it := range q.items {
		if e, ok := it.(persist.ErrorItem); ok {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	proc   *Processor
	disp   *dispatch.Dispatcher
	queue  *captureQueue
	clock  *clockwork.FakeClock
	holder *routing.Holder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{
		Devices: []config.DeviceConfig{
			{Name: "esp-garage", DisplayName: "Garage"},
			{Name: "esp-attic", DisplayName: "Attic"},
		},
		Statuses: []config.StatusConfig{
			{Prefix: "sensor-", Suffix: "_power", Name: "Power", Unit: "W",
				RecordDelta: 1.5, RecordThrottle: 60, Group: "power"},
		},
		Groups: []config.GroupConfig{
			{ID: "grp-power", Name: "power", Title: "Total Power", Unit: "W", RecordThrottle: 30},
		},
	}

	clock := clockwork.NewFakeClock()
	holder := routing.NewHolder(routing.Build(cfg))
	disp := dispatch.New()
	queue := &captureQueue{}
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")

	return &fixture{
		proc:   NewProcessor(holder, disp, recording.NewPolicy(clock), queue, clock, logger),
		disp:   disp,
		queue:  queue,
		clock:  clock,
		holder: holder,
	}
}

func powerEvent(device, value string, receivedAt int64) telemetry.Event {
	return telemetry.Event{
		ID:         "sensor-" + device + "_power",
		Value:      value,
		ReceivedAt: receivedAt,
	}
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestHandleEventPersistsCoercedValue(t *testing.T) {
	f := newFixture(t)

	f.proc.HandleEvent("ep", powerEvent("esp-garage", "3.14159", 1700000000))

	vals := f.queue.values()
	if len(vals) != 2 {
		t.Fatalf("value items = %d, want device reading + first group aggregate", len(vals))
	}

	dev := vals[0]
	if dev.RowName != "sensor-esp-garage_power" {
		t.Errorf("row name = %q", dev.RowName)
	}
	if !dev.Value.Equal(decimal.RequireFromString("3.14")) {
		t.Errorf("persisted value = %s, want truncated 3.14", dev.Value)
	}
	if dev.UnixSeconds != 1700000000 {
		t.Errorf("device reading timestamp = %d, want wire receive time", dev.UnixSeconds)
	}
}

func TestHandleEventUpdatesDispatcherCache(t *testing.T) {
	f := newFixture(t)

	f.proc.HandleEvent("ep", powerEvent("esp-garage", "12.5", 1700000000))

	entry, ok := f.disp.Value("Garage", "Power")
	if !ok {
		t.Fatal("dispatcher cache not updated")
	}
	if !entry.Value.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("cached value = %s", entry.Value)
	}
}

func TestHandleEventDropsUnroutableSource(t *testing.T) {
	f := newFixture(t)

	f.proc.HandleEvent("ep", telemetry.Event{ID: "sensor-unknown_power", Value: "1"})

	if len(f.queue.values()) != 0 {
		t.Error("unroutable event was persisted")
	}
	if _, ok := f.disp.Value("unknown", "Power"); ok {
		t.Error("unroutable event reached the cache")
	}
}

func TestHandleEventThrottlesRepeats(t *testing.T) {
	f := newFixture(t)

	f.proc.HandleEvent("ep", powerEvent("esp-garage", "10", 1700000000))
	f.clock.Advance(time.Second)
	f.proc.HandleEvent("ep", powerEvent("esp-garage", "10.5", 1700000001))

	// The second sample moved less than the delta inside the window:
	// only the first device reading and first group aggregate persist.
	vals := f.queue.values()
	if len(vals) != 2 {
		t.Fatalf("value items = %d, want 2", len(vals))
	}
}

func TestHandleEventGroupAggregation(t *testing.T) {
	f := newFixture(t)

	f.proc.HandleEvent("ep", powerEvent("esp-garage", "10", 1700000000))

	// Window open: the attic sample records its device reading but no
	// second group aggregate.
	f.clock.Advance(time.Second)
	f.proc.HandleEvent("ep", powerEvent("esp-attic", "5", 1700000001))

	var groups []persist.ValueItem
	for _, v := range f.queue.values() {
		if v.IsGroup {
			groups = append(groups, v)
		}
	}
	if len(groups) != 1 {
		t.Fatalf("group items = %d, want 1 while window open", len(groups))
	}

	// Window elapsed: next sample emits a fresh aggregate over both
	// cached members.
	f.clock.Advance(30 * time.Second)
	f.proc.HandleEvent("ep", powerEvent("esp-garage", "20", 1700000032))

	groups = groups[:0]
	for _, v := range f.queue.values() {
		if v.IsGroup {
			groups = append(groups, v)
		}
	}
	if len(groups) != 2 {
		t.Fatalf("group items = %d, want 2 after window elapsed", len(groups))
	}
	if !groups[1].Value.Equal(decimal.RequireFromString("25")) {
		t.Errorf("group sum = %s, want 20 + 5", groups[1].Value)
	}
	if groups[1].RowName != "grp-power" {
		t.Errorf("group row = %q", groups[1].RowName)
	}
}

func TestHandleErrorRecordsAndPublishes(t *testing.T) {
	f := newFixture(t)

	sub := f.disp.Subscribe()
	var published error
	sub.OnError(func(_ string, err error) { published = err })

	streamErr := errors.New("stream: remote closed connection")
	f.proc.HandleError("http://esp-garage.local/events", streamErr)

	if published == nil {
		t.Error("error not fanned out")
	}

	errs := f.queue.errors()
	if len(errs) != 1 {
		t.Fatalf("error items = %d, want 1", len(errs))
	}
	if errs[0].Source != "http://esp-garage.local/events" {
		t.Errorf("error source = %q", errs[0].Source)
	}
	if errs[0].Message != streamErr.Error() {
		t.Errorf("error message = %q", errs[0].Message)
	}
}

func TestHandleRawLineFansOut(t *testing.T) {
	f := newFixture(t)

	sub := f.disp.Subscribe()
	var got string
	sub.OnRawText(func(_ string, line string) { got = line })

	f.proc.HandleRawLine("ep", "event: state")

	if got != "event: state" {
		t.Errorf("raw line = %q", got)
	}
	if len(f.queue.items) != 0 {
		t.Error("raw lines must not be persisted")
	}
}

func TestRouteSwapTakesEffect(t *testing.T) {
	f := newFixture(t)

	f.proc.HandleEvent("ep", powerEvent("esp-garage", "10", 1700000000))

	// Drop the garage device from the table; its events become
	// unroutable without a restart.
	cfg := &config.Config{
		Devices: []config.DeviceConfig{{Name: "esp-attic", DisplayName: "Attic"}},
		Statuses: []config.StatusConfig{
			{Prefix: "sensor-", Suffix: "_power", Name: "Power", Unit: "W",
				RecordDelta: 1.5, RecordThrottle: 60},
		},
	}
	f.holder.Swap(routing.Build(cfg))

	before := len(f.queue.values())
	f.clock.Advance(2 * time.Minute)
	f.proc.HandleEvent("ep", powerEvent("esp-garage", "99", 1700000120))

	if len(f.queue.values()) != before {
		t.Error("event routed through a stale table")
	}
}

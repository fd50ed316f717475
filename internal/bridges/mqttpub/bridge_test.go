package mqttpub

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/esphive/esphive-core/internal/dispatch"
	"github.com/esphive/esphive-core/internal/infrastructure/config"
	"github.com/esphive/esphive-core/internal/infrastructure/logging"
	"github.com/esphive/esphive-core/internal/routing"
	"github.com/esphive/esphive-core/internal/telemetry"
)

type published struct {
	topic   string
	payload []byte
	retain  bool
}

type mockPublisher struct {
	mu        sync.Mutex
	messages  []published
	connected bool
}

func (m *mockPublisher) Publish(topic string, payload []byte, retain bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, published{topic, payload, retain})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) byTopic(topic string) (published, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.topic == topic {
			return msg, true
		}
	}
	return published{}, false
}

func testTable() *routing.Table {
	return routing.Build(&config.Config{
		Devices: []config.DeviceConfig{{Name: "esp-garage", DisplayName: "Garage Door"}},
		Statuses: []config.StatusConfig{
			{Prefix: "sensor-", Suffix: "_power", Name: "Power", Unit: "W",
				RecordDelta: 1, RecordThrottle: 60, Group: "power"},
		},
		Groups: []config.GroupConfig{
			{ID: "grp-power", Name: "power", Title: "Total Power", Unit: "W", RecordThrottle: 30},
		},
	})
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

func publish(disp *dispatch.Dispatcher, table *routing.Table, value string) {
	route, _ := table.Resolve("sensor-esp-garage_power")
	disp.Publish("ep", route, telemetry.Reading{
		Value:       decimal.RequireFromString(value),
		UnixSeconds: 1700000000,
	}, telemetry.Event{})
}

func TestBridgeRepublishesValues(t *testing.T) {
	disp := dispatch.New()
	table := testTable()
	pub := &mockPublisher{connected: true}

	Attach(disp, table, pub, "esphive/", testLogger())
	publish(disp, table, "12.5")

	msg, ok := pub.byTopic("esphive/values/garage_door/power")
	if !ok {
		t.Fatal("value topic not published")
	}
	if !msg.retain {
		t.Error("value messages must be retained")
	}

	var body valuePayload
	if err := json.Unmarshal(msg.payload, &body); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !body.Value.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("payload value = %s", body.Value)
	}
	if body.Unit != "W" || body.UnixSeconds != 1700000000 {
		t.Errorf("payload metadata = %+v", body)
	}
}

func TestBridgeRepublishesGroupSums(t *testing.T) {
	disp := dispatch.New()
	table := testTable()
	pub := &mockPublisher{connected: true}

	Attach(disp, table, pub, "esphive", testLogger())
	publish(disp, table, "7.25")

	msg, ok := pub.byTopic("esphive/groups/grp-power")
	if !ok {
		t.Fatal("group topic not published")
	}

	var body groupPayload
	if err := json.Unmarshal(msg.payload, &body); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !body.Sum.Equal(decimal.RequireFromString("7.25")) {
		t.Errorf("group sum = %s", body.Sum)
	}
}

func TestBridgeSkipsWhileDisconnected(t *testing.T) {
	disp := dispatch.New()
	table := testTable()
	pub := &mockPublisher{connected: false}

	Attach(disp, table, pub, "esphive", testLogger())
	publish(disp, table, "1")

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.messages) != 0 {
		t.Error("published while disconnected")
	}
}

func TestBridgeDetach(t *testing.T) {
	disp := dispatch.New()
	table := testTable()
	pub := &mockPublisher{connected: true}

	b := Attach(disp, table, pub, "esphive", testLogger())
	b.Detach(disp)
	publish(disp, table, "1")

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.messages) != 0 {
		t.Error("detached bridge still publishing")
	}
}

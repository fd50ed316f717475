package mqttpub

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/esphive/esphive-core/internal/dispatch"
	"github.com/esphive/esphive-core/internal/infrastructure/logging"
	"github.com/esphive/esphive-core/internal/routing"
)

// Publisher sends messages to the broker. Satisfied by mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, retain bool) error
	IsConnected() bool
}

// valuePayload is the JSON body for value topics. The value is a
// decimal string, so broker consumers see exactly what was stored.
type valuePayload struct {
	Value       decimal.Decimal `json:"value"`
	Unit        string          `json:"unit"`
	UnixSeconds int64           `json:"unix_seconds"`
}

type groupPayload struct {
	Sum  decimal.Decimal `json:"sum"`
	Unit string          `json:"unit"`
}

// Bridge mirrors dispatcher traffic onto MQTT topics:
//
//	<prefix>/values/<device>/<status>  per routed value
//	<prefix>/groups/<group-id>         per recomputed aggregate
//
// Topic segments are lowercased with separators replaced, so display
// names with spaces stay valid.
type Bridge struct {
	pub    Publisher
	prefix string
	logger *logging.Logger
	sub    *dispatch.Subscription
}

// Attach subscribes the bridge to the dispatcher, binding a handler
// for every route and group in the table.
func Attach(disp *dispatch.Dispatcher, table *routing.Table, pub Publisher, prefix string, logger *logging.Logger) *Bridge {
	b := &Bridge{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "/"),
		logger: logger.With("component", "mqttpub"),
	}

	sub := disp.Subscribe()
	for _, route := range table.Routes() {
		sub.OnValue(route.DeviceName, route.StatusName, b.publishValue)
	}
	for _, group := range table.Groups() {
		group := group
		sub.OnGroup(group.ID, func(id string, sum decimal.Decimal) {
			b.publishGroup(id, group.Unit, sum)
		})
	}
	b.sub = sub
	b.logger.Debug("attached to dispatcher",
		"subscription_id", sub.ID(),
		"routes", len(table.Routes()),
		"groups", len(table.Groups()),
	)

	return b
}

// Detach removes the bridge's subscription. Call on shutdown or before
// re-attaching after a configuration reload.
func (b *Bridge) Detach(disp *dispatch.Dispatcher) {
	disp.Unsubscribe(b.sub)
}

func (b *Bridge) publishValue(e dispatch.Entry) {
	if !b.pub.IsConnected() {
		return
	}

	payload, err := json.Marshal(valuePayload{
		Value:       e.Value,
		Unit:        e.Unit,
		UnixSeconds: e.UnixSeconds,
	})
	if err != nil {
		return
	}

	topic := b.prefix + "/values/" + segment(e.Device) + "/" + segment(e.Status)
	if err := b.pub.Publish(topic, payload, true); err != nil {
		b.logger.Warn("republish failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) publishGroup(groupID, unit string, sum decimal.Decimal) {
	if !b.pub.IsConnected() {
		return
	}

	payload, err := json.Marshal(groupPayload{Sum: sum, Unit: unit})
	if err != nil {
		return
	}

	topic := b.prefix + "/groups/" + segment(groupID)
	if err := b.pub.Publish(topic, payload, true); err != nil {
		b.logger.Warn("republish failed", "topic", topic, "error", err)
	}
}

// segment makes a display name safe as one topic level.
func segment(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', ' ':
			return '_'
		}
		return r
	}, s)
}

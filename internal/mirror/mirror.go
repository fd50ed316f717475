package mirror

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/esphive/esphive-core/internal/dispatch"
	"github.com/esphive/esphive-core/internal/routing"
)

const (
	readingMeasurement = "reading"
	groupMeasurement   = "group"
)

// Writer queues points for delivery. Satisfied by influxdb.Client.
type Writer interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time)
}

// Mirror subscribes to the dispatcher and forwards every routed value
// and group aggregate as a time-series point.
type Mirror struct {
	writer Writer
	clock  clockwork.Clock
	sub    *dispatch.Subscription
}

// Attach subscribes the mirror, binding a handler for every route and
// group in the table.
func Attach(disp *dispatch.Dispatcher, table *routing.Table, writer Writer, clock clockwork.Clock) *Mirror {
	m := &Mirror{
		writer: writer,
		clock:  clock,
	}

	sub := disp.Subscribe()
	for _, route := range table.Routes() {
		sub.OnValue(route.DeviceName, route.StatusName, m.writeValue)
	}
	for _, group := range table.Groups() {
		group := group
		sub.OnGroup(group.ID, func(id string, sum decimal.Decimal) {
			m.writeGroup(group, sum)
		})
	}
	m.sub = sub

	return m
}

// Detach removes the mirror's subscription.
func (m *Mirror) Detach(disp *dispatch.Dispatcher) {
	disp.Unsubscribe(m.sub)
}

func (m *Mirror) writeValue(e dispatch.Entry) {
	m.writer.WritePoint(
		readingMeasurement,
		map[string]string{
			"device": e.Device,
			"status": e.Status,
			"unit":   e.Unit,
		},
		map[string]any{"value": e.Value.InexactFloat64()},
		time.Unix(e.UnixSeconds, 0),
	)
}

// writeGroup stamps the point with the local clock; an aggregate has
// no single wire timestamp.
func (m *Mirror) writeGroup(group *routing.Group, sum decimal.Decimal) {
	m.writer.WritePoint(
		groupMeasurement,
		map[string]string{
			"group": group.ID,
			"title": group.Title,
			"unit":  group.Unit,
		},
		map[string]any{"value": sum.InexactFloat64()},
		m.clock.Now(),
	)
}

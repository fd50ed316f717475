package dispatch

import (
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/esphive/esphive-core/internal/routing"
	"github.com/esphive/esphive-core/internal/telemetry"
)

// Key identifies one live value by display names.
type Key struct {
	Device string
	Status string
}

// Entry is the latest known value for one display key.
type Entry struct {
	// Device and Status are the display names from the route.
	Device string
	Status string

	// Unit is the measurement unit.
	Unit string

	// GroupID is the lowercase group identifier, or empty when the
	// entry aggregates into no group.
	GroupID string

	// Value is the coerced fixed-point value.
	Value decimal.Decimal

	// UnixSeconds is when the value was received.
	UnixSeconds int64
}

// Key returns the entry's display key.
func (e Entry) Key() Key {
	return Key{Device: e.Device, Status: e.Status}
}

// Dispatcher is the in-process fan-out hub and live value cache.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Handlers run on the
//     publishing goroutine, one subscriber at a time, in registration
//     order.
type Dispatcher struct {
	mu    sync.RWMutex
	subs  []*Subscription
	cache map[Key]Entry
}

// New creates an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		cache: make(map[Key]Entry),
	}
}

// Subscribe registers a new consumer and returns its Subscription for
// slot registration.
func (d *Dispatcher) Subscribe() *Subscription {
	sub := newSubscription()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, sub)
	return sub
}

// Unsubscribe removes a consumer and clears its handler slots, so a
// fan-out that already snapshotted the subscriber list delivers
// nothing to it.
func (d *Dispatcher) Unsubscribe(sub *Subscription) {
	d.mu.Lock()
	for i, s := range d.subs {
		if s == sub {
			d.subs = append(d.subs[:i], d.subs[i+1:]...)
			break
		}
	}
	d.mu.Unlock()

	sub.clear()
}

// Publish stores a routed reading in the value cache and fans it out:
// per subscriber, the matching value handler first, then the group
// handler with the recomputed aggregate, then the whole-event slot.
func (d *Dispatcher) Publish(endpoint string, route *routing.Route, reading telemetry.Reading, ev telemetry.Event) {
	entry := Entry{
		Device:      route.DeviceName,
		Status:      route.StatusName,
		Unit:        route.Unit,
		Value:       reading.Value,
		UnixSeconds: reading.UnixSeconds,
	}
	if route.Group != nil {
		entry.GroupID = strings.ToLower(route.Group.ID)
	}

	d.mu.Lock()
	d.cache[entry.Key()] = entry
	subs := make([]*Subscription, len(d.subs))
	copy(subs, d.subs)
	d.mu.Unlock()

	var sum decimal.Decimal
	if entry.GroupID != "" {
		sum = d.GroupSum(entry.GroupID)
	}

	for _, sub := range subs {
		if fn := sub.valueFunc(entry.Key()); fn != nil {
			fn(entry)
		}
		if fn := sub.anyValueFunc(); fn != nil {
			fn(entry)
		}
		if entry.GroupID != "" {
			if fn := sub.groupFunc(entry.GroupID); fn != nil {
				fn(entry.GroupID, sum)
			}
			if fn := sub.anyGroupFunc(); fn != nil {
				fn(entry.GroupID, sum)
			}
		}
		if fn := sub.eventFunc(); fn != nil {
			fn(endpoint, ev)
		}
	}
}

// PublishError fans a stream error out to every error slot.
func (d *Dispatcher) PublishError(endpoint string, err error) {
	for _, sub := range d.snapshot() {
		if fn := sub.errorFunc(); fn != nil {
			fn(endpoint, err)
		}
	}
}

// PublishRawText fans a raw stream line out to every raw slot.
func (d *Dispatcher) PublishRawText(endpoint string, line string) {
	for _, sub := range d.snapshot() {
		if fn := sub.rawFunc(); fn != nil {
			fn(endpoint, line)
		}
	}
}

// GroupSum returns the sum of the latest values of every cached member
// of the group, matched case-insensitively. A group with no cached
// members sums to zero.
func (d *Dispatcher) GroupSum(groupID string) decimal.Decimal {
	want := strings.ToLower(groupID)

	d.mu.RLock()
	defer d.mu.RUnlock()

	sum := decimal.Zero
	for _, e := range d.cache {
		if e.GroupID == want {
			sum = sum.Add(e.Value)
		}
	}
	return sum
}

// Value returns the latest cached entry for a display key.
func (d *Dispatcher) Value(device, status string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.cache[Key{Device: device, Status: status}]
	return e, ok
}

// Values returns all cached entries sorted by device then status.
func (d *Dispatcher) Values() []Entry {
	d.mu.RLock()
	out := make([]Entry, 0, len(d.cache))
	for _, e := range d.cache {
		out = append(out, e)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Device != out[j].Device {
			return out[i].Device < out[j].Device
		}
		return out[i].Status < out[j].Status
	})
	return out
}

func (d *Dispatcher) snapshot() []*Subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()
	subs := make([]*Subscription, len(d.subs))
	copy(subs, d.subs)
	return subs
}

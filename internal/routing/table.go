package routing

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/esphive/esphive-core/internal/infrastructure/config"
)

// Group is the aggregation metadata attached to a route.
type Group struct {
	// ID is the stable identifier group recordings are stored under.
	ID string

	// Name is the configured group name; status-to-group matching is
	// case-insensitive on this value.
	Name string

	// Title is the human-readable group title.
	Title string

	// Unit is the group's measurement unit.
	Unit string

	// RecordThrottle gates group recordings; groups have no delta check.
	RecordThrottle time.Duration
}

// Route is the resolved metadata for one source key.
type Route struct {
	// SourceKey is the synthesized identifier: prefix + device + suffix.
	SourceKey string

	// DeviceName is the device's display name.
	DeviceName string

	// StatusName is the status's display name.
	StatusName string

	// Unit is the measurement unit.
	Unit string

	// RecordDelta is the minimum change that forces a recording before
	// the throttle elapses.
	RecordDelta decimal.Decimal

	// RecordThrottle is the maximum time between forced recordings.
	RecordThrottle time.Duration

	// Group is the aggregation group, or nil when the device opts out
	// or the status has no group.
	Group *Group
}

// Table is an immutable source-key lookup snapshot.
type Table struct {
	routes map[string]*Route
	groups []*Group
}

// Build constructs a Table from a configuration snapshot.
//
// For every (device, status) combination it synthesizes
// sourceKey = prefix + deviceName + suffix and attaches group metadata
// by case-insensitive name match, or none when the device opts out.
func Build(cfg *config.Config) *Table {
	groups := make([]*Group, 0, len(cfg.Groups))
	byName := make(map[string]*Group, len(cfg.Groups))
	for _, g := range cfg.Groups {
		grp := &Group{
			ID:             g.ID,
			Name:           g.Name,
			Title:          g.Title,
			Unit:           g.Unit,
			RecordThrottle: time.Duration(g.RecordThrottle) * time.Second,
		}
		groups = append(groups, grp)
		byName[strings.ToLower(g.Name)] = grp
	}

	routes := make(map[string]*Route, len(cfg.Devices)*len(cfg.Statuses))
	for _, dev := range cfg.Devices {
		for _, st := range cfg.Statuses {
			var group *Group
			if st.Group != "" && !dev.IgnoreGroup {
				group = byName[strings.ToLower(st.Group)]
			}

			key := st.Prefix + dev.Name + st.Suffix
			routes[key] = &Route{
				SourceKey:      key,
				DeviceName:     dev.DisplayName,
				StatusName:     st.Name,
				Unit:           st.Unit,
				RecordDelta:    decimal.NewFromFloat(st.RecordDelta),
				RecordThrottle: time.Duration(st.RecordThrottle) * time.Second,
				Group:          group,
			}
		}
	}

	return &Table{
		routes: routes,
		groups: groups,
	}
}

// Resolve looks up the route for a source key. Pure read.
func (t *Table) Resolve(sourceKey string) (*Route, bool) {
	r, ok := t.routes[sourceKey]
	return r, ok
}

// Routes returns all routes in the table. The slice is freshly
// allocated; the routes themselves are shared and immutable.
func (t *Table) Routes() []*Route {
	out := make([]*Route, 0, len(t.routes))
	for _, r := range t.routes {
		out = append(out, r)
	}
	return out
}

// Groups returns all configured groups.
func (t *Table) Groups() []*Group {
	return t.groups
}

// Len returns the number of routable source keys.
func (t *Table) Len() int {
	return len(t.routes)
}

// Holder publishes Table snapshots with an atomic reference swap.
// Readers are lock-free and never retry; rebuilds never disturb a
// lookup already running against the previous snapshot.
type Holder struct {
	table atomic.Pointer[Table]
}

// NewHolder creates a Holder seeded with the given table.
func NewHolder(t *Table) *Holder {
	h := &Holder{}
	h.table.Store(t)
	return h
}

// Current returns the active snapshot.
func (h *Holder) Current() *Table {
	return h.table.Load()
}

// Swap publishes a new snapshot.
func (h *Holder) Swap(t *Table) {
	h.table.Store(t)
}

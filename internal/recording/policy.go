package recording

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/esphive/esphive-core/internal/routing"
)

type sourceState struct {
	seen       bool
	lastValue  decimal.Decimal
	windowFrom time.Time
}

type groupState struct {
	seen       bool
	windowFrom time.Time
}

// Policy holds the per-source and per-group recording state.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Policy struct {
	clock clockwork.Clock

	mu      sync.Mutex
	sources map[string]*sourceState
	groups  map[string]*groupState
}

// NewPolicy creates a Policy driven by the given clock.
func NewPolicy(clock clockwork.Clock) *Policy {
	return &Policy{
		clock:   clock,
		sources: make(map[string]*sourceState),
		groups:  make(map[string]*groupState),
	}
}

// Evaluate decides whether a sample for the route's source should be
// recorded and advances the source's state.
//
// The delta baseline is the last recorded value. A suppressed sample
// changes nothing, so slow drift accumulates against the baseline and
// eventually trips the delta.
//
// Explicit notifications always record and leave the state untouched,
// so the surrounding throttle window keeps its cadence.
//
// Parameters:
//   - route: Resolved route carrying delta and throttle settings
//   - value: Coerced sample value
//   - explicit: Whether the event was an explicit state change
//
// Returns:
//   - bool: True when the sample should be persisted
func (p *Policy) Evaluate(route *routing.Route, value decimal.Decimal, explicit bool) bool {
	if explicit {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	st, ok := p.sources[route.SourceKey]
	if !ok {
		st = &sourceState{}
		p.sources[route.SourceKey] = st
	}

	due := !st.seen ||
		now.Sub(st.windowFrom) >= route.RecordThrottle ||
		value.Sub(st.lastValue).Abs().GreaterThanOrEqual(route.RecordDelta)

	record := false
	if due {
		// Unchanged values restart the window but record nothing.
		record = !st.seen || !value.Equal(st.lastValue)
		st.windowFrom = now
		st.seen = true
		if record {
			st.lastValue = value
		}
	}

	return record
}

// EvaluateGroup decides whether a group aggregate should be recorded.
// The first sighting records; afterwards only an elapsed throttle
// window does.
func (p *Policy) EvaluateGroup(groupID string, throttle time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	st, ok := p.groups[groupID]
	if !ok {
		st = &groupState{}
		p.groups[groupID] = st
	}

	if st.seen && now.Sub(st.windowFrom) < throttle {
		return false
	}

	st.seen = true
	st.windowFrom = now
	return true
}

// Reset drops all accumulated state. Used after a routing rebuild so
// stale sources do not linger.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources = make(map[string]*sourceState)
	p.groups = make(map[string]*groupState)
}

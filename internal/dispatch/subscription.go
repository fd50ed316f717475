package dispatch

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/esphive/esphive-core/internal/telemetry"
)

// ValueFunc handles a fresh value for one display key.
type ValueFunc func(entry Entry)

// GroupFunc handles a recomputed group aggregate.
type GroupFunc func(groupID string, sum decimal.Decimal)

// EventFunc handles every decoded event, routed or not.
type EventFunc func(endpoint string, ev telemetry.Event)

// ErrorFunc handles stream errors.
type ErrorFunc func(endpoint string, err error)

// RawFunc handles raw stream lines.
type RawFunc func(endpoint string, line string)

// Subscription is one consumer's set of handler slots. Slots are
// filled during consumer initialization and cleared on Unsubscribe;
// a cleared subscription receives nothing even if a fan-out was
// already in flight when it was removed.
//
// Thread Safety:
//   - Slot registration and delivery are safe for concurrent use.
type Subscription struct {
	id uuid.UUID

	mu       sync.RWMutex
	values   map[Key]ValueFunc
	groups   map[string]GroupFunc
	anyValue ValueFunc
	anyGroup GroupFunc
	onEvent  EventFunc
	onError  ErrorFunc
	onRaw    RawFunc
}

func newSubscription() *Subscription {
	return &Subscription{
		id:     uuid.New(),
		values: make(map[Key]ValueFunc),
		groups: make(map[string]GroupFunc),
	}
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() uuid.UUID {
	return s.id
}

// OnValue registers a handler for one (device, status) display key.
// Registering again for the same key replaces the previous handler.
func (s *Subscription) OnValue(device, status string, fn ValueFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[Key{Device: device, Status: status}] = fn
}

// OnGroup registers a handler for one group's aggregate, matched
// case-insensitively on the group ID.
func (s *Subscription) OnGroup(groupID string, fn GroupFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[strings.ToLower(groupID)] = fn
}

// OnAnyValue registers a wildcard handler invoked for every published
// value, regardless of display key.
func (s *Subscription) OnAnyValue(fn ValueFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anyValue = fn
}

// OnAnyGroup registers a wildcard handler invoked for every recomputed
// group aggregate.
func (s *Subscription) OnAnyGroup(fn GroupFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anyGroup = fn
}

// OnEvent registers the whole-event handler slot.
func (s *Subscription) OnEvent(fn EventFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = fn
}

// OnError registers the stream-error handler slot.
func (s *Subscription) OnError(fn ErrorFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// OnRawText registers the raw-line handler slot.
func (s *Subscription) OnRawText(fn RawFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRaw = fn
}

func (s *Subscription) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[Key]ValueFunc)
	s.groups = make(map[string]GroupFunc)
	s.anyValue = nil
	s.anyGroup = nil
	s.onEvent = nil
	s.onError = nil
	s.onRaw = nil
}

func (s *Subscription) valueFunc(key Key) ValueFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

func (s *Subscription) groupFunc(groupID string) GroupFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groups[strings.ToLower(groupID)]
}

func (s *Subscription) anyValueFunc() ValueFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anyValue
}

func (s *Subscription) anyGroupFunc() GroupFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anyGroup
}

func (s *Subscription) eventFunc() EventFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onEvent
}

func (s *Subscription) errorFunc() ErrorFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onError
}

func (s *Subscription) rawFunc() RawFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onRaw
}

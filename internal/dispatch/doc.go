// Package dispatch fans decoded telemetry out to in-process consumers
// and keeps the latest value per (device, status) pair.
//
// Consumers register a Subscription and fill its handler slots: a
// per-display-key value handler, a per-group aggregate handler, and
// raw slots for whole events, raw lines, and stream errors. Delivery
// is sequential in registration order; handlers run on the publishing
// goroutine and must return quickly.
//
// The value cache doubles as the group aggregation source: a group sum
// is the sum of the latest values of every cached member.
package dispatch

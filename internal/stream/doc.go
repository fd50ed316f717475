// Package stream ingests line-oriented server-push telemetry from
// ESPHome-style endpoints.
//
// A Client owns the probe → connect → parse → reconnect loop for one
// endpoint. Reachability is probed with a bounded-timeout ICMP ping;
// probe failures, connect failures, idle timeouts, and remote closes
// are all transient: the loop reports them to its sink and re-enters
// the probe path after a fixed delay, forever. There is deliberately no
// exponential backoff — the devices are on the local network and a
// constant retry cadence keeps reconnect latency predictable.
//
// Wire framing: an "event: state" marker line (case-insensitive) arms
// the next "data: {" line for JSON decoding; every line, decodable or
// not, is also forwarded to the sink as opaque raw text.
//
// The Manager owns one Client per configured endpoint and reconciles
// the set against configuration changes.
package stream

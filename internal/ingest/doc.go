// Package ingest turns raw stream traffic into routed, cached, and
// persisted telemetry.
//
// The Processor is the single stream sink: it coerces event values to
// fixed-point decimals, resolves routes, publishes to the dispatcher,
// consults the recording policy, and enqueues persistence work. Events
// whose source key resolves to no route are published nowhere and
// persisted never; they are logged and dropped.
package ingest

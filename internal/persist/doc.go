// Package persist serializes all storage writes through a single
// consumer.
//
// Producers enqueue items without blocking and without touching the
// database; only the consumer goroutine resolves row identifiers,
// appends records, and runs WAL checkpoints. A storage failure drops
// the failing item, logs it, records it in the errors table, and
// pauses the consumer briefly so a struggling database gets air.
//
// Stop drains everything already enqueued before returning, so a clean
// shutdown loses nothing.
package persist

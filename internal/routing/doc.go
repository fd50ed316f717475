// Package routing maps wire source keys to device and group metadata.
//
// A Table is built wholesale from a configuration snapshot and never
// mutated afterwards; configuration changes build a fresh Table and
// swap it into a Holder atomically. Lookups against an old snapshot
// that are already in flight stay valid.
package routing

// Package mirror copies live telemetry into InfluxDB.
//
// The mirror is best-effort: points are queued to the non-blocking
// write API and batched in the background. SQLite stays the source of
// truth; losing the mirror loses nothing.
package mirror

// Package database provides the SQLite connection for EspHive Core.
//
// It wraps database/sql with WAL-mode pragmas, a single-connection pool
// (the persistence queue is the only writer), embedded migrations, and
// health checks. The storage schema itself lives in migrations/.
package database

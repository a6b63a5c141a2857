// Package store provides the SQLite database pivot queries run against.
//
// A store holds two kinds of data:
//   - Sources: one table per data source plus its typed column catalog
//   - Views: saved view definitions, keyed by content-addressed id
//
// Column kinds map onto SQLite storage classes. Strings are TEXT, numbers
// are REAL, times are INTEGER unix milliseconds and booleans are INTEGER
// 0/1. FromStored turns scanned values back into Go values.
//
// Connections are opened through DriverName, which registers the scalar
// functions the query compiler emits (time and number bucketing, time
// shifting and regexp).
//
// # Ordering
//
// Listings order by seq INTEGER (a logical counter), never by wall time,
// with ties broken by id COLLATE BINARY ASC.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// View ids are computed via internal/ir using RFC 8785 canonical JSON and
// SHA-256 with domain separation.
package store

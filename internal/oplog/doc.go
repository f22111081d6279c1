// Package oplog provides the SQLite-backed durable operation log.
//
// The log is the single serialization point for conflict resolution: both
// the local write path and the inbound remote path funnel through
// append-if-winner, which runs the lookup, the last-write-wins decision,
// the optional statement execution, and the log append inside one SQLite
// transaction. Two concurrent resolutions for the same row can therefore
// never both believe they won, and a crash between executing a write and
// recording it cannot leave the two out of step.
//
// Database configuration follows the same discipline as the rest of the
// engine's storage:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: current-pointer rows must reference log entries
//
// The user's application tables live in the same database file, which is
// what makes the execute+append transaction possible.
package oplog

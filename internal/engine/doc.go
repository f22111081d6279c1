// Package engine assembles the driftdb replication core for one node.
//
// ARCHITECTURE:
//
// Write path (local):
//  1. Application calls Conn.Exec with a SQL statement
//  2. Classifier maps it to (table, row key, kind) or declares it
//     unclassifiable (executed, not replicated)
//  3. Statement executes and the stamped Operation appends to the log
//     in one SQLite transaction
//  4. Operation enters the bounded dispatch queue
//  5. Observers receive a local change notification
//
// Write path (remote):
//  1. Inbound worker receives a frame from the transport subscription
//  2. Frame decodes to an Operation (malformed frames drop, counted)
//  3. Log resolves it against the row's current entry (last-write-wins)
//  4. If it wins, the payload executes and the Operation appends,
//     again in one transaction
//  5. Observers receive a remote change notification
//
// The operation log is the single serialization point: its
// append-if-winner transaction is an atomic check-and-set per row, so a
// concurrent local write and remote apply for one row can never both
// win. There is no global lock across rows and no cross-row atomicity.
//
// The dispatch queue is the only intentional buffering point and the
// only place back-pressure applies; local write latency is decoupled
// from transport latency beyond it. Shutdown flushes the queue against
// a deadline and drops the remainder with a logged count — never hangs.
package engine

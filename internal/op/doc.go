// Package op defines the replicated write operation value type and the
// pure last-write-wins conflict resolution over it.
//
// An Operation is an immutable record of one row-level write: which table
// and primary key it touched, what kind of write it was, and a payload
// (fully resolved SQL) that any replica can execute to reproduce the write.
// Every Operation carries a hybrid-logical-clock stamp and the identity of
// the node that originated it.
//
// Operations are totally ordered by (HLCTime, HLCCounter, NodeID)
// ascending. The ordering is the only input to conflict resolution, so
// every replica that has seen the same set of Operations for a row decides
// the same winner regardless of arrival order.
//
// The package also owns the wire codec: msgpack encoding wrapped in a
// snappy-compressed frame with a one-byte magic and version header.
package op

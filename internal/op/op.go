package op

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// WriteKind is the type of write an Operation represents.
type WriteKind uint8

const (
	// KindInsert is a new row insertion.
	KindInsert WriteKind = iota + 1
	// KindUpdate modifies an existing row.
	KindUpdate
	// KindDelete removes a row.
	KindDelete
)

// String returns the stable lowercase name used in the log table and on
// the wire. Changing these values changes the on-disk format.
func (k WriteKind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return fmt.Sprintf("writekind(%d)", uint8(k))
	}
}

// ParseWriteKind converts a stored kind name back to a WriteKind.
func ParseWriteKind(s string) (WriteKind, error) {
	switch s {
	case "insert":
		return KindInsert, nil
	case "update":
		return KindUpdate, nil
	case "delete":
		return KindDelete, nil
	default:
		return 0, fmt.Errorf("unknown write kind %q", s)
	}
}

// Canonical returns the NFC normalization of an identifier. Table names
// and primary-key values pass through here before they are used as row
// keys, so replicas that received the same logical identifier in a
// different unicode composition still agree on row identity.
func Canonical(s string) string {
	return norm.NFC.String(s)
}

// RowKey uniquely identifies a replicated row across all nodes.
type RowKey struct {
	Table      string
	PrimaryKey string
}

// NewRowKey builds a canonicalized RowKey.
func NewRowKey(table, pk string) RowKey {
	return RowKey{Table: Canonical(table), PrimaryKey: Canonical(pk)}
}

func (k RowKey) String() string {
	return k.Table + "/" + k.PrimaryKey
}

// Operation is a single replicated write. Immutable once constructed;
// shared by value across component boundaries.
type Operation struct {
	// OpID is a unique identifier for transport-level deduplication.
	// It plays no part in conflict resolution.
	OpID string `msgpack:"id"`
	// HLCTime is the hybrid-logical-clock physical component
	// (nanoseconds since the unix epoch as observed by the origin node).
	HLCTime uint64 `msgpack:"ht"`
	// HLCCounter is the logical component, incremented when the origin's
	// wall clock did not advance between stamps.
	HLCCounter uint32 `msgpack:"hc"`
	// NodeID identifies the originating node. Final ordering tiebreaker.
	NodeID string `msgpack:"n"`
	// Table is the canonical name of the table written to.
	Table string `msgpack:"t"`
	// Kind is the type of write.
	Kind WriteKind `msgpack:"k"`
	// PrimaryKey is the affected row's primary-key value as a string.
	PrimaryKey string `msgpack:"pk"`
	// Payload is fully resolved SQL (no placeholders) that re-executes
	// the write on a remote replica.
	Payload []byte `msgpack:"p"`
	// Columns optionally lists the columns involved. Informational only.
	Columns []string `msgpack:"c,omitempty"`
}

// Key returns the row identity this Operation is about.
func (o Operation) Key() RowKey {
	return NewRowKey(o.Table, o.PrimaryKey)
}

// Compare orders two Operations by (HLCTime, HLCCounter, NodeID)
// ascending. Returns -1, 0, or +1. A greater Operation is "more recent"
// for last-write-wins purposes.
func Compare(a, b Operation) int {
	switch {
	case a.HLCTime < b.HLCTime:
		return -1
	case a.HLCTime > b.HLCTime:
		return 1
	}
	switch {
	case a.HLCCounter < b.HLCCounter:
		return -1
	case a.HLCCounter > b.HLCCounter:
		return 1
	}
	return strings.Compare(a.NodeID, b.NodeID)
}

// Origin distinguishes where a change was applied from.
type Origin uint8

const (
	// OriginLocal marks a write made by the local application.
	OriginLocal Origin = iota + 1
	// OriginRemote marks a write received from a peer and applied here.
	OriginRemote
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	default:
		return fmt.Sprintf("origin(%d)", uint8(o))
	}
}

// ChangeNotification is the ephemeral "a row changed" event fanned out to
// observers after every applied write. Not persisted.
type ChangeNotification struct {
	Table      string
	Kind       WriteKind
	PrimaryKey string
	Origin     Origin
	// Replicated is false when the write executed locally but was not
	// replicated (unclassifiable statement or unregistered table).
	// Observers should treat such notifications as warnings.
	Replicated bool
}

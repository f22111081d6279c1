package op

// Outcome is the decision of last-write-wins conflict resolution between
// a stored local Operation and an incoming remote one.
type Outcome int

const (
	// RemoteWins means the remote Operation is newer and must be applied.
	RemoteWins Outcome = iota + 1
	// LocalWins means the stored Operation is newer; the remote one is
	// discarded without touching state.
	LocalWins
	// Duplicate means the ordering tuples are identical: the remote
	// Operation has already been applied here and must not be reapplied.
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case RemoteWins:
		return "remote-wins"
	case LocalWins:
		return "local-wins"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Resolve decides the winner between the current log entry for a row
// (nil if the row has never been written) and a remote Operation.
//
// Deterministic and side-effect free: any two replicas that have observed
// the same set of Operations for a row reach the same final winner in any
// arrival order.
//
// Deletes get no special precedence. A delete with an older stamp than a
// concurrent update loses to the update; the row is resurrected rather
// than tombstoned. This is a deliberate policy choice, documented in
// DESIGN.md.
func Resolve(local *Operation, remote Operation) Outcome {
	if local == nil {
		return RemoteWins
	}
	switch Compare(remote, *local) {
	case 1:
		return RemoteWins
	case -1:
		return LocalWins
	default:
		return Duplicate
	}
}

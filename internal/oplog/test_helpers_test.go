package oplog

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/driftdb/driftdb/internal/op"
)

// createTestLog creates a log backed by a fresh database with a tasks
// table for payload execution tests.
func createTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	_, err = l.DB().Exec(`CREATE TABLE tasks (id TEXT PRIMARY KEY, title TEXT, done INTEGER DEFAULT 0)`)
	if err != nil {
		t.Fatalf("create tasks table: %v", err)
	}
	return l
}

// createTestOp builds an update operation for tasks/row-1 with the given
// ordering tuple.
func createTestOp(hlcTime uint64, counter uint32, nodeID, title string) op.Operation {
	return op.Operation{
		OpID:       fmt.Sprintf("op-%d-%d-%s", hlcTime, counter, nodeID),
		HLCTime:    hlcTime,
		HLCCounter: counter,
		NodeID:     nodeID,
		Table:      "tasks",
		Kind:       op.KindUpdate,
		PrimaryKey: "row-1",
		Payload:    []byte(fmt.Sprintf("UPDATE tasks SET title = '%s' WHERE id = 'row-1'", title)),
		Columns:    []string{"title"},
	}
}

// countRows returns the number of rows in a table.
func countRows(t *testing.T, l *Log, table string) int {
	t.Helper()
	var n int
	if err := l.DB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

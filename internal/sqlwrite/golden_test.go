package sqlwrite

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TestClassify_Golden pins the classifier's behavior over a corpus of
// statement shapes. Regenerate with:
//
//	go test ./internal/sqlwrite -run TestClassify_Golden -update
func TestClassify_Golden(t *testing.T) {
	cases := []struct {
		sql  string
		args []any
	}{
		{"INSERT INTO tasks (id, title, done) VALUES ('task-1', 'write docs', 0)", nil},
		{"INSERT OR IGNORE INTO tasks (id, title) VALUES (7, 'x')", nil},
		{"UPDATE tasks SET title = 'new', done = 1 WHERE id = 'task-1'", nil},
		{"DELETE FROM tasks WHERE id = 42", nil},
		{"UPDATE tasks SET done = 1", nil},
		{"INSERT INTO tasks (id) VALUES (1), (2)", nil},
		{"DELETE FROM tasks WHERE title = 'x'", nil},
	}

	var b bytes.Buffer
	for _, c := range cases {
		fmt.Fprintf(&b, "%s\n", c.sql)
		stmt, err := Classify(c.sql, c.args, "id")
		if err != nil {
			b.WriteString("  => unclassifiable\n\n")
			continue
		}
		fmt.Fprintf(&b, "  => kind=%s table=%s pk=%s columns=%v\n\n",
			stmt.Kind, stmt.Table, stmt.PrimaryKey, stmt.Columns)
	}

	g := goldie.New(t)
	g.Assert(t, "classify", b.Bytes())
}

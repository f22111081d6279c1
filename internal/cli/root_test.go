package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_RejectsBadFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "xml", "tables", "--schema", t.TempDir()})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))

	assert.Error(t, cmd.Execute())
}

func TestTablesCommand_TextOutput(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.cue"), []byte(`
tables: tasks: {
	primaryKey: "id"
	columns: ["id", "title"]
}
`), 0o644))

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"tables", "--schema", dir})
	cmd.SetOut(&out)
	cmd.SetErr(new(bytes.Buffer))

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "tasks")
	assert.Contains(t, out.String(), "pk: id")
}

func TestTablesCommand_JSONOutput(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.cue"), []byte(`
tables: tasks: {
	primaryKey: "id"
	columns: ["id"]
}
`), 0o644))

	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "json", "tables", "--schema", dir})
	cmd.SetOut(&out)
	cmd.SetErr(new(bytes.Buffer))

	require.NoError(t, cmd.Execute())

	var decls []TableDecl
	require.NoError(t, json.Unmarshal(out.Bytes(), &decls))
	require.Len(t, decls, 1)
	assert.Equal(t, "tasks", decls[0].Name)
}

func TestTablesCommand_MissingSchemaDir(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"tables", "--schema", filepath.Join(t.TempDir(), "nope")})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

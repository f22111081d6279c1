package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/driftdb/driftdb/internal/registry"
)

// Error codes for schema loading.
const (
	ErrCodeNotFound   = "SCHEMA_DIR_NOT_FOUND"
	ErrCodeNoFiles    = "NO_CUE_FILES"
	ErrCodeLoadFailed = "CUE_LOAD_FAILED"
	ErrCodeBadTable   = "BAD_TABLE_DECLARATION"
)

// LoadError represents an error that occurred during schema loading.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TableDecl is one table declaration from the CUE schema directory.
type TableDecl struct {
	Name       string
	PrimaryKey string   `json:"primaryKey"`
	Columns    []string `json:"columns"`
	// Synced defaults to true; local-only tables set it false.
	Synced bool `json:"synced"`
	// Create optionally holds DDL executed at startup (IF NOT EXISTS
	// recommended). Tables without it must already exist.
	Create string `json:"create"`
}

// Meta converts the declaration to registry metadata.
func (d TableDecl) Meta() registry.TableMeta {
	return registry.TableMeta{
		Name:       d.Name,
		PrimaryKey: d.PrimaryKey,
		Columns:    d.Columns,
		Synced:     d.Synced,
	}
}

// LoadTables loads table declarations from the CUE files in dir.
//
// Expected shape:
//
//	tables: {
//		tasks: {
//			primaryKey: "id"
//			columns: ["id", "title", "done"]
//			synced:  true
//			create:  "CREATE TABLE IF NOT EXISTS tasks (...)"
//		}
//	}
func LoadTables(dir string) ([]TableDecl, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schema directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := findCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	cfg := &load.Config{Dir: dir}
	instances := load.Instances([]string{"."}, cfg)
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	tablesVal := value.LookupPath(cue.ParsePath("tables"))
	if !tablesVal.Exists() {
		return nil, &LoadError{Code: ErrCodeBadTable, Message: "schema has no 'tables' field"}
	}

	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBadTable, Message: fmt.Sprintf("iterating tables: %v", err)}
	}

	var decls []TableDecl
	for iter.Next() {
		decl := TableDecl{Synced: true}
		if err := iter.Value().Decode(&decl); err != nil {
			return nil, &LoadError{Code: ErrCodeBadTable, Message: fmt.Sprintf("table %q: %v", iter.Label(), err)}
		}
		decl.Name = iter.Label()
		if decl.PrimaryKey == "" {
			return nil, &LoadError{Code: ErrCodeBadTable, Message: fmt.Sprintf("table %q: primaryKey is required", decl.Name)}
		}
		decls = append(decls, decl)
	}

	sort.Slice(decls, func(i, j int) bool { return decls[i].Name < decls[j].Name })
	return decls, nil
}

// findCUEFiles returns all .cue files directly in dir.
func findCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".cue") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

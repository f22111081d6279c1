// Package registry tracks which tables participate in replication.
//
// The registry is ordinary constructed state: the application enumerates
// its tables at startup and registers each one as replicated or
// local-only. A table with no registration is invisible to the write
// interceptor — its writes execute but are never classified or
// replicated.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/driftdb/driftdb/internal/op"
)

// InternalPrefix marks driftdb's own tables. Writes to these are never
// replicated regardless of registration.
const InternalPrefix = "_driftdb_"

// TableMeta describes one registered table. Immutable after registration.
type TableMeta struct {
	// Name is the SQL table name.
	Name string
	// PrimaryKey is the primary-key column name.
	PrimaryKey string
	// Columns lists all column names, in declaration order.
	Columns []string
	// Synced is true for replicated tables, false for local-only ones.
	Synced bool
}

// Registry is the process-wide table metadata store. Safe for concurrent
// use; built once at startup and effectively read-only afterwards.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]TableMeta
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tables: make(map[string]TableMeta)}
}

// Register marks a table as replicated. Replaces any existing entry with
// the same canonical name.
func (r *Registry) Register(meta TableMeta) {
	meta.Synced = true
	r.put(meta)
}

// RegisterLocal marks a table as tracked but excluded from replication.
func (r *Registry) RegisterLocal(meta TableMeta) {
	meta.Synced = false
	r.put(meta)
}

func (r *Registry) put(meta TableMeta) {
	meta.Name = op.Canonical(meta.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[meta.Name] = meta
}

// Lookup returns metadata for a table, if registered.
func (r *Registry) Lookup(table string) (TableMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.tables[op.Canonical(table)]
	return meta, ok
}

// IsReplicated reports whether writes to table should be dispatched to
// peers. Internal tables never replicate.
func (r *Registry) IsReplicated(table string) bool {
	if strings.HasPrefix(table, InternalPrefix) {
		return false
	}
	meta, ok := r.Lookup(table)
	return ok && meta.Synced
}

// Tables returns all registered tables sorted by name.
func (r *Registry) Tables() []TableMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TableMeta, 0, len(r.tables))
	for _, meta := range r.tables {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Replicated returns only the tables that participate in replication,
// sorted by name.
func (r *Registry) Replicated() []TableMeta {
	all := r.Tables()
	out := all[:0]
	for _, meta := range all {
		if meta.Synced {
			out = append(out, meta)
		}
	}
	return out
}

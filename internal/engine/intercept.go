package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/driftdb/driftdb/internal/op"
	"github.com/driftdb/driftdb/internal/oplog"
	"github.com/driftdb/driftdb/internal/registry"
	"github.com/driftdb/driftdb/internal/sqlwrite"
)

// Conn is the write-interception boundary. Every mutating statement the
// application runs goes through Exec; reads pass through untouched.
type Conn struct {
	eng *Engine
}

// Exec runs a statement against the local replica and, when the
// statement is a classifiable write to a replicated table, records and
// dispatches it as an Operation.
//
// The order of events is fixed: classify, execute locally, stamp the
// clock, append to the log (same transaction as the execute), enqueue
// for broadcast, notify observers. The operation is never visible to the
// network before its local commit.
//
// Writes that cannot be classified — bulk statements, no primary-key
// equality — execute locally but are not replicated; observers get a
// notification with Replicated=false and a warning is logged.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	e := c.eng

	kind, table, isWrite := sqlwrite.Peek(query)
	if !isWrite || strings.HasPrefix(table, registry.InternalPrefix) {
		res, err := e.log.DB().ExecContext(ctx, query, args...)
		if err != nil {
			return nil, newStorageError(table, "", err)
		}
		return res, nil
	}

	meta, registered := e.reg.Lookup(table)
	if !registered {
		// Unregistered tables are invisible to replication.
		res, err := e.log.DB().ExecContext(ctx, query, args...)
		if err != nil {
			return nil, newStorageError(table, "", err)
		}
		return res, nil
	}

	stmt, err := sqlwrite.Classify(query, args, meta.PrimaryKey)
	if err != nil {
		res, execErr := e.log.DB().ExecContext(ctx, query, args...)
		if execErr != nil {
			return nil, newStorageError(table, "", execErr)
		}
		e.logger.Warn("write executed but not replicated",
			"table", table, "kind", kind.String(), "error", newClassificationError(table, err))
		e.notifier.Publish(op.ChangeNotification{
			Table:      op.Canonical(table),
			Kind:       kind,
			Origin:     op.OriginLocal,
			Replicated: false,
		})
		return res, nil
	}

	payload, err := sqlwrite.ResolvePlaceholders(sqlwrite.StripReturning(query), args)
	if err != nil {
		// Cannot build a self-contained payload: same degradation as an
		// unclassifiable statement.
		res, execErr := e.log.DB().ExecContext(ctx, query, args...)
		if execErr != nil {
			return nil, newStorageError(table, stmt.PrimaryKey, execErr)
		}
		e.logger.Warn("write executed but not replicated",
			"table", table, "kind", stmt.Kind.String(), "error", newClassificationError(table, err))
		e.notifier.Publish(op.ChangeNotification{
			Table:      op.Canonical(table),
			Kind:       stmt.Kind,
			PrimaryKey: stmt.PrimaryKey,
			Origin:     op.OriginLocal,
			Replicated: false,
		})
		return res, nil
	}

	// Stamp inside the transaction (after the execute) so stamp order
	// matches commit order for concurrent local writers.
	build := func() op.Operation {
		ts := e.clock.Now()
		return op.Operation{
			OpID:       e.opID(),
			HLCTime:    ts.Physical,
			HLCCounter: ts.Logical,
			NodeID:     e.nodeID,
			Table:      stmt.Table,
			Kind:       stmt.Kind,
			PrimaryKey: stmt.PrimaryKey,
			Payload:    []byte(payload),
			Columns:    stmt.Columns,
		}
	}

	result, execRes, operation, err := e.log.ExecuteAndAppend(ctx, build, query, args...)
	if err != nil {
		return nil, newStorageError(stmt.Table, stmt.PrimaryKey, err)
	}
	if result != oplog.Applied {
		// A freshly stamped local write only loses if the clock issued a
		// non-increasing stamp, which the clock forbids.
		e.logger.Error("local write superseded by existing log entry",
			"table", stmt.Table, "pk", stmt.PrimaryKey, "op_id", operation.OpID)
	}

	if meta.Synced && result == oplog.Applied {
		if err := e.disp.Enqueue(ctx, operation); err != nil {
			// Dispatch problems never fail the local write.
			e.logger.Warn("operation not dispatched",
				"op_id", operation.OpID, "table", stmt.Table, "error", err)
		}
	}

	e.notifier.Publish(op.ChangeNotification{
		Table:      operation.Key().Table,
		Kind:       operation.Kind,
		PrimaryKey: operation.Key().PrimaryKey,
		Origin:     op.OriginLocal,
		Replicated: meta.Synced,
	})
	return execRes, nil
}

// Query passes a read straight to the replica database.
func (c *Conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.eng.log.Query(ctx, query, args...)
}

// QueryRow passes a single-row read straight to the replica database.
func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.eng.log.QueryRow(ctx, query, args...)
}

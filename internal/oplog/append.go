package oplog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/driftdb/driftdb/internal/op"
)

// Result reports what append-if-winner did with an Operation.
type Result int

const (
	// Applied means the Operation won and is now the current entry.
	Applied Result = iota + 1
	// Superseded means a newer (or identical) Operation already holds
	// the row; state was not mutated.
	Superseded
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case Superseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// AppendIfWinner resolves o against the row's current entry and, if o
// wins, records it as the new current entry and appends it to history.
// The lookup, decision, and append run in one transaction: the atomic
// check-and-set that serializes concurrent local and remote writers.
func (l *Log) AppendIfWinner(ctx context.Context, o op.Operation) (Result, error) {
	var res Result
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		res, err = l.appendLocked(ctx, tx, o)
		return err
	})
	if err != nil {
		return 0, err
	}
	return res, nil
}

// ExecuteAndAppend is the local write path: executes stmt against the
// replica database and appends the Operation produced by build in the
// same transaction, so a crash can neither lose a logged write nor
// replicate an unexecuted one.
//
// build runs inside the transaction, after the statement executed. The
// caller stamps the clock there: because the transaction serializes
// writers, stamp order then matches commit order, and two concurrent
// local writes to one row can never log stamps in the opposite order of
// their effects.
func (l *Log) ExecuteAndAppend(ctx context.Context, build func() op.Operation, stmt string, args ...any) (Result, sql.Result, op.Operation, error) {
	var res Result
	var execRes sql.Result
	var o op.Operation
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		execRes, err = tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			return fmt.Errorf("execute write: %w", err)
		}
		o = build()
		res, err = l.appendLocked(ctx, tx, o)
		return err
	})
	if err != nil {
		return 0, nil, op.Operation{}, err
	}
	return res, execRes, o, nil
}

// ApplyRemote is the inbound path: resolves o against the current entry
// and, when o wins, executes execSQL and appends o in one transaction.
// When o loses or is a duplicate, nothing is executed and Superseded is
// returned. execSQL may be empty for operations with no payload.
func (l *Log) ApplyRemote(ctx context.Context, o op.Operation, execSQL string) (Result, error) {
	var res Result
	err := l.withTx(ctx, func(tx *sql.Tx) error {
		current, err := l.currentLocked(ctx, tx, o.Key())
		if err != nil {
			return err
		}
		if op.Resolve(current, o) != op.RemoteWins {
			res = Superseded
			return nil
		}
		if execSQL != "" {
			if _, err := tx.ExecContext(ctx, execSQL); err != nil {
				return fmt.Errorf("apply remote write: %w", err)
			}
		}
		if err := l.insertLocked(ctx, tx, o); err != nil {
			return err
		}
		res = Applied
		return nil
	})
	if err != nil {
		return 0, err
	}
	return res, nil
}

// Current returns the winning Operation for a row, or nil if the row has
// never been written.
func (l *Log) Current(ctx context.Context, key op.RowKey) (*op.Operation, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT l.op_id, l.hlc_time, l.hlc_counter, l.node_id,
		       l.table_name, l.primary_key, l.kind, l.payload, l.columns
		FROM _driftdb_current c
		JOIN _driftdb_log l ON l.op_id = c.op_id
		WHERE c.table_name = ? AND c.primary_key = ?
	`, key.Table, key.PrimaryKey)
	o, err := scanOp(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup current entry: %w", err)
	}
	return &o, nil
}

// OpsSince returns all history entries with hlc_time strictly greater
// than since, in ascending clock order. Used for incremental catch-up:
// a returning peer sends its last-seen HLC time and replays the rest.
func (l *Log) OpsSince(ctx context.Context, since uint64) ([]op.Operation, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT op_id, hlc_time, hlc_counter, node_id,
		       table_name, primary_key, kind, payload, columns
		FROM _driftdb_log
		WHERE hlc_time > ?
		ORDER BY hlc_time ASC, hlc_counter ASC, node_id ASC
	`, int64(since))
	if err != nil {
		return nil, fmt.Errorf("query ops since: %w", err)
	}
	defer rows.Close()

	var ops []op.Operation
	for rows.Next() {
		o, err := scanOp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan op: %w", err)
		}
		ops = append(ops, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ops: %w", err)
	}
	return ops, nil
}

// Compact deletes history entries with hlc_time strictly less than
// before, keeping any entry still referenced as a row's current pointer.
// After compaction, incremental catch-up for older timestamps will miss
// the deleted operations. Returns the number of rows removed.
func (l *Log) Compact(ctx context.Context, before uint64) (int64, error) {
	res, err := l.db.ExecContext(ctx, `
		DELETE FROM _driftdb_log
		WHERE hlc_time < ?
		  AND op_id NOT IN (SELECT op_id FROM _driftdb_current)
	`, int64(before))
	if err != nil {
		return 0, fmt.Errorf("compact log: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("compact log: rows affected: %w", err)
	}
	return n, nil
}

// LatestHLC returns the highest hlc_time in the history, or zero for an
// empty log. A node reports this as its catch-up baseline.
func (l *Log) LatestHLC(ctx context.Context) (uint64, error) {
	var t sql.NullInt64
	err := l.db.QueryRowContext(ctx,
		`SELECT MAX(hlc_time) FROM _driftdb_log`).Scan(&t)
	if err != nil {
		return 0, fmt.Errorf("query latest hlc: %w", err)
	}
	if !t.Valid {
		return 0, nil
	}
	return uint64(t.Int64), nil
}

func (l *Log) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (l *Log) appendLocked(ctx context.Context, tx *sql.Tx, o op.Operation) (Result, error) {
	current, err := l.currentLocked(ctx, tx, o.Key())
	if err != nil {
		return 0, err
	}
	if op.Resolve(current, o) != op.RemoteWins {
		return Superseded, nil
	}
	if err := l.insertLocked(ctx, tx, o); err != nil {
		return 0, err
	}
	return Applied, nil
}

func (l *Log) currentLocked(ctx context.Context, tx *sql.Tx, key op.RowKey) (*op.Operation, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT l.op_id, l.hlc_time, l.hlc_counter, l.node_id,
		       l.table_name, l.primary_key, l.kind, l.payload, l.columns
		FROM _driftdb_current c
		JOIN _driftdb_log l ON l.op_id = c.op_id
		WHERE c.table_name = ? AND c.primary_key = ?
	`, key.Table, key.PrimaryKey)
	o, err := scanOp(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup current entry: %w", err)
	}
	return &o, nil
}

func (l *Log) insertLocked(ctx context.Context, tx *sql.Tx, o op.Operation) error {
	var columnsJSON sql.NullString
	if len(o.Columns) > 0 {
		data, err := json.Marshal(o.Columns)
		if err != nil {
			return fmt.Errorf("marshal columns: %w", err)
		}
		columnsJSON = sql.NullString{String: string(data), Valid: true}
	}

	// History append. ON CONFLICT DO NOTHING keeps replays idempotent:
	// the same op_id never produces two history rows.
	_, err := tx.ExecContext(ctx, `
		INSERT INTO _driftdb_log
		(op_id, hlc_time, hlc_counter, node_id, table_name, primary_key, kind, payload, columns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(op_id) DO NOTHING
	`,
		o.OpID,
		int64(o.HLCTime),
		int64(o.HLCCounter),
		o.NodeID,
		o.Key().Table,
		o.Key().PrimaryKey,
		o.Kind.String(),
		o.Payload,
		columnsJSON,
	)
	if err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}

	// Current-pointer upsert. History rows are never rewritten; only
	// this pointer moves.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO _driftdb_current (table_name, primary_key, op_id)
		VALUES (?, ?, ?)
		ON CONFLICT(table_name, primary_key) DO UPDATE SET op_id = excluded.op_id
	`, o.Key().Table, o.Key().PrimaryKey, o.OpID)
	if err != nil {
		return fmt.Errorf("update current entry: %w", err)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanOp.
type scanner interface {
	Scan(dest ...any) error
}

func scanOp(s scanner) (op.Operation, error) {
	var (
		o           op.Operation
		hlcTime     int64
		hlcCounter  int64
		kind        string
		payload     []byte
		columnsJSON sql.NullString
	)
	err := s.Scan(&o.OpID, &hlcTime, &hlcCounter, &o.NodeID,
		&o.Table, &o.PrimaryKey, &kind, &payload, &columnsJSON)
	if err != nil {
		return op.Operation{}, err
	}
	o.HLCTime = uint64(hlcTime)
	o.HLCCounter = uint32(hlcCounter)
	o.Payload = payload

	o.Kind, err = op.ParseWriteKind(kind)
	if err != nil {
		return op.Operation{}, fmt.Errorf("log entry %s: %w", o.OpID, err)
	}
	if columnsJSON.Valid {
		if err := json.Unmarshal([]byte(columnsJSON.String), &o.Columns); err != nil {
			return op.Operation{}, fmt.Errorf("log entry %s: unmarshal columns: %w", o.OpID, err)
		}
	}
	return o, nil
}

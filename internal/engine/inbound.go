package engine

import (
	"context"

	"github.com/driftdb/driftdb/internal/hlc"
	"github.com/driftdb/driftdb/internal/op"
	"github.com/driftdb/driftdb/internal/oplog"
	"github.com/driftdb/driftdb/internal/sqlwrite"
)

// runInbound consumes frames from the transport subscription until ctx
// is cancelled or the channel closes.
//
// The path tolerates duplicate and out-of-order delivery by
// construction: the log's append-if-winner discards anything stale or
// already applied. Malformed frames are counted, logged, and dropped —
// a bad peer message must never take the processor down.
func (e *Engine) runInbound(ctx context.Context, frames <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-frames:
			if !ok {
				return
			}
			e.handleFrame(ctx, data)
		}
	}
}

func (e *Engine) handleFrame(ctx context.Context, data []byte) {
	o, err := op.Decode(data)
	if err != nil {
		e.decodeFailures.Add(1)
		e.logger.Warn("dropping malformed remote frame",
			"bytes", len(data), "error", &ReplicationError{
				Code: ErrCodeDecode, Message: "undecodable frame", Err: err,
			})
		return
	}

	if o.NodeID == e.nodeID {
		// Our own broadcast echoed back; the log would refuse it as a
		// duplicate anyway, skip the transaction.
		return
	}

	if !e.reg.IsReplicated(o.Table) {
		e.logger.Debug("ignoring remote op for unreplicated table",
			"table", o.Table, "origin", o.NodeID)
		return
	}

	// Fold the remote stamp into the clock so subsequent local writes
	// order after everything this node has seen.
	e.clock.Observe(hlc.Timestamp{Physical: o.HLCTime, Logical: o.HLCCounter})

	execSQL := sqlwrite.StripReturning(string(o.Payload))
	if o.Kind == op.KindInsert {
		// Both sides may have generated the same key independently; the
		// resolver already decided this value wins.
		execSQL = sqlwrite.RewriteInsertOrReplace(execSQL)
	}

	result, err := e.log.ApplyRemote(ctx, o, execSQL)
	if err != nil {
		e.logger.Error("failed to apply remote op",
			"op_id", o.OpID, "table", o.Table, "pk", o.PrimaryKey, "error", err)
		return
	}
	if result != oplog.Applied {
		e.logger.Debug("remote op superseded",
			"op_id", o.OpID, "table", o.Table, "pk", o.PrimaryKey)
		return
	}

	e.logger.Debug("applied remote op",
		"op_id", o.OpID, "table", o.Table, "pk", o.PrimaryKey, "origin", o.NodeID)
	e.notifier.Publish(op.ChangeNotification{
		Table:      o.Key().Table,
		Kind:       o.Kind,
		PrimaryKey: o.Key().PrimaryKey,
		Origin:     op.OriginRemote,
		Replicated: true,
	})
}

// DecodeFailures returns how many undecodable frames were dropped.
func (e *Engine) DecodeFailures() uint64 {
	return e.decodeFailures.Load()
}

package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftdb/driftdb/internal/op"
	"github.com/driftdb/driftdb/internal/transport"
)

// OverflowPolicy controls what Enqueue does when the dispatch queue is
// full.
type OverflowPolicy int

const (
	// PolicyBlock applies back-pressure: Enqueue waits for space. This
	// is the default; it preserves the replication guarantee at the cost
	// of coupling write latency to the queue when the transport stalls.
	PolicyBlock OverflowPolicy = iota
	// PolicyDropOldest discards the oldest queued operation to make
	// room. This degrades replication to lossy: dropped operations are
	// counted and logged, never silent.
	PolicyDropOldest
)

// DefaultQueueSize bounds the dispatch queue. The queue is the only
// intentional buffering point between local writes and transport I/O.
const DefaultQueueSize = 256

// DefaultRetryBudget is how many times a failed broadcast is retried
// (requeued at the tail) before the operation is dropped.
const DefaultRetryBudget = 5

const retryBackoff = 100 * time.Millisecond

// Dispatcher decouples write interception from transport I/O through a
// bounded queue drained by one background worker.
type Dispatcher struct {
	tr          transport.Transport
	topic       string
	policy      OverflowPolicy
	retryBudget int
	logger      *slog.Logger

	// onDeliveryFailure runs when an operation exhausts its retry
	// budget. Replication is best-effort; this is how the gap surfaces.
	onDeliveryFailure func(op.Operation, error)

	mu     sync.Mutex
	ch     chan queuedOp
	stop   chan struct{}
	done   chan struct{}
	closed bool

	losses   atomic.Uint64 // operations discarded by PolicyDropOldest
	failures atomic.Uint64 // operations dropped after the retry budget
}

type queuedOp struct {
	o        op.Operation
	frame    []byte
	attempts int
}

// NewDispatcher creates a Dispatcher publishing to topic on tr.
// Run must be started before Enqueue is useful.
func NewDispatcher(tr transport.Transport, topic string, queueSize int, policy OverflowPolicy, retryBudget int, logger *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if retryBudget <= 0 {
		retryBudget = DefaultRetryBudget
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		tr:          tr,
		topic:       topic,
		policy:      policy,
		retryBudget: retryBudget,
		logger:      logger.With("component", "dispatcher"),
		ch:          make(chan queuedOp, queueSize),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	d.onDeliveryFailure = func(o op.Operation, err error) {
		d.logger.Error("operation dropped after retry budget",
			"op_id", o.OpID, "table", o.Table, "pk", o.PrimaryKey, "error", err)
	}
	return d
}

// OnDeliveryFailure replaces the delivery-failure hook. Must be called
// before Run.
func (d *Dispatcher) OnDeliveryFailure(fn func(op.Operation, error)) {
	d.onDeliveryFailure = fn
}

// Enqueue hands an operation to the background worker. Under PolicyBlock
// it waits for queue space (or ctx cancellation); under PolicyDropOldest
// it never blocks.
func (d *Dispatcher) Enqueue(ctx context.Context, o op.Operation) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return errors.New("dispatcher closed")
	}

	frame, err := op.Encode(o)
	if err != nil {
		return &ReplicationError{
			Code:    ErrCodeDispatch,
			Message: "encode operation",
			Table:   o.Table, PrimaryKey: o.PrimaryKey,
			Err: err,
		}
	}
	q := queuedOp{o: o, frame: frame}

	if d.policy == PolicyBlock {
		select {
		case d.ch <- q:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-d.stop:
			return errors.New("dispatcher closed")
		}
	}

	for {
		select {
		case d.ch <- q:
			return nil
		default:
		}
		select {
		case old := <-d.ch:
			d.losses.Add(1)
			d.logger.Warn("dispatch queue full, dropping oldest operation",
				"op_id", old.o.OpID, "table", old.o.Table, "losses", d.losses.Load())
		default:
		}
	}
}

// Run drains the queue until ctx is cancelled or Close is called. The
// Close path flushes queued operations before Run returns; cancelling
// ctx aborts immediately instead, since no flush can succeed against a
// dead context anyway. Leftovers are dropped with a logged count.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-d.ch:
			d.send(ctx, q)
		case <-d.stop:
			// Deterministic shutdown: flush what is queued, then stop.
			for {
				select {
				case q := <-d.ch:
					d.send(ctx, q)
				default:
					return
				}
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// Close stops intake and waits for the worker to flush, up to ctx's
// deadline. Flushing needs the context Run was started with to still be
// live. Anything still queued when the deadline hits is dropped with a
// logged count; shutdown never hangs on a dead transport.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	close(d.stop)
	select {
	case <-d.done:
	case <-ctx.Done():
	}

	if remaining := len(d.ch); remaining > 0 {
		d.logger.Warn("dispatch queue discarded on shutdown", "count", remaining)
	}
	return nil
}

// Losses returns how many operations PolicyDropOldest discarded.
func (d *Dispatcher) Losses() uint64 {
	return d.losses.Load()
}

// Failures returns how many operations were dropped after exhausting the
// retry budget.
func (d *Dispatcher) Failures() uint64 {
	return d.failures.Load()
}

func (d *Dispatcher) send(ctx context.Context, q queuedOp) {
	err := d.tr.Broadcast(ctx, d.topic, q.frame)
	if err == nil {
		return
	}

	q.attempts++
	if q.attempts > d.retryBudget {
		d.failures.Add(1)
		d.onDeliveryFailure(q.o, err)
		return
	}

	d.logger.Debug("broadcast failed, requeueing",
		"op_id", q.o.OpID, "attempt", q.attempts, "error", err)

	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return
	}

	// Requeue at the tail. If the queue is full the retry loses to
	// fresher operations; counted as a delivery failure.
	select {
	case d.ch <- q:
	default:
		d.failures.Add(1)
		d.onDeliveryFailure(q.o, err)
	}
}

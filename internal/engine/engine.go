package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/driftdb/driftdb/internal/hlc"
	"github.com/driftdb/driftdb/internal/op"
	"github.com/driftdb/driftdb/internal/oplog"
	"github.com/driftdb/driftdb/internal/registry"
	"github.com/driftdb/driftdb/internal/transport"
)

// DefaultTopic is the broadcast topic when none is configured.
const DefaultTopic = "driftdb/ops"

// Engine wires the replication core together for one node: the write
// interceptor, the hybrid logical clock, the operation log, the bounded
// dispatcher, and the inbound processor, all sharing one transport.
//
// Two concurrent write sources exist per node — local application writes
// through Conn.Exec and remote deliveries through the inbound processor.
// The log's append-if-winner transaction is the single serialization
// point between them; the engine itself holds no per-row state.
type Engine struct {
	log      *oplog.Log
	reg      *registry.Registry
	clock    *hlc.Clock
	nodeID   string
	tr       transport.Transport
	topic    string
	disp     *Dispatcher
	notifier *Notifier
	logger   *slog.Logger
	opID     func() string

	decodeFailures atomic.Uint64

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	cancelSub func()
	wg        sync.WaitGroup
}

// Option configures an Engine.
type Option func(*config)

type config struct {
	topic       string
	queueSize   int
	policy      OverflowPolicy
	retryBudget int
	logger      *slog.Logger
	clock       *hlc.Clock
	opID        func() string
}

// WithTopic sets the broadcast topic.
func WithTopic(topic string) Option {
	return func(c *config) { c.topic = topic }
}

// WithQueueSize bounds the dispatch queue.
func WithQueueSize(n int) Option {
	return func(c *config) { c.queueSize = n }
}

// WithOverflowPolicy selects the dispatch queue overflow policy.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(c *config) { c.policy = p }
}

// WithRetryBudget sets the broadcast retry budget.
func WithRetryBudget(n int) Option {
	return func(c *config) { c.retryBudget = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithClock injects a clock. Tests use a controllable time source.
func WithClock(clock *hlc.Clock) Option {
	return func(c *config) { c.clock = clock }
}

// WithOpIDGenerator injects the operation-ID generator. Tests use a
// deterministic sequence.
func WithOpIDGenerator(fn func() string) Option {
	return func(c *config) { c.opID = fn }
}

// New assembles an Engine. The caller owns log and tr and closes them
// after the engine; nodeID must be this node's persistent identity.
func New(log *oplog.Log, reg *registry.Registry, tr transport.Transport, nodeID string, opts ...Option) *Engine {
	cfg := &config{
		topic:       DefaultTopic,
		queueSize:   DefaultQueueSize,
		policy:      PolicyBlock,
		retryBudget: DefaultRetryBudget,
		logger:      slog.Default(),
		clock:       hlc.New(),
		opID:        hlc.NewOpID,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	logger := cfg.logger.With("node", nodeID)
	e := &Engine{
		log:      log,
		reg:      reg,
		clock:    cfg.clock,
		nodeID:   nodeID,
		tr:       tr,
		topic:    cfg.topic,
		notifier: NewNotifier(),
		logger:   logger,
		opID:     cfg.opID,
	}
	e.disp = NewDispatcher(tr, cfg.topic, cfg.queueSize, cfg.policy, cfg.retryBudget, logger)
	return e
}

// Start subscribes to the topic and launches the dispatch and inbound
// workers. Idempotent start is an error.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine already started")
	}

	frames, cancelSub, err := e.tr.Subscribe(e.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", e.topic, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.cancelSub = cancelSub
	e.started = true

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.disp.Run(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.runInbound(runCtx, frames)
	}()

	e.logger.Info("replication engine started", "topic", e.topic)
	return nil
}

// Close shuts the engine down deterministically: intake stops, the
// dispatch queue flushes within ctx's deadline (leftovers are dropped
// with a logged count), workers exit, observers' channels close.
// Flushing requires the context passed to Start to still be live, so
// cancel that context after Close, not before.
// The log and transport remain open; the caller owns them.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		e.notifier.Close()
		return nil
	}
	e.started = false
	cancel := e.cancel
	cancelSub := e.cancelSub
	e.mu.Unlock()

	// Flush the dispatcher first; its Run loop drains on stop.
	e.disp.Close(ctx)
	cancelSub()
	cancel()
	e.wg.Wait()
	e.notifier.Close()
	e.logger.Info("replication engine stopped")
	return nil
}

// Conn returns the write-interception boundary the application should
// route all writes through.
func (e *Engine) Conn() *Conn {
	return &Conn{eng: e}
}

// Register marks a table as replicated.
func (e *Engine) Register(meta registry.TableMeta) {
	e.reg.Register(meta)
}

// RegisterLocal marks a table as tracked but local-only.
func (e *Engine) RegisterLocal(meta registry.TableMeta) {
	e.reg.RegisterLocal(meta)
}

// Notifications subscribes an observer to change notifications.
func (e *Engine) Notifications() (<-chan op.ChangeNotification, func()) {
	return e.notifier.Subscribe()
}

// Notifier exposes the fan-out for metrics access.
func (e *Engine) Notifier() *Notifier {
	return e.notifier
}

// Dispatcher exposes queue metrics (losses, delivery failures).
func (e *Engine) Dispatcher() *Dispatcher {
	return e.disp
}

// NodeID returns this node's persistent identity.
func (e *Engine) NodeID() string {
	return e.nodeID
}

// Log returns the operation log.
func (e *Engine) Log() *oplog.Log {
	return e.log
}

// SyncAll republishes the node's entire history to the topic with fresh
// operation IDs, so transports that deduplicate by message ID forward
// the replay. Peers resolve each operation normally; anything they have
// already applied is a no-op. This is the catch-up mechanism for peers
// that were offline; a proper snapshot protocol is a future extension
// (see protocol.go).
func (e *Engine) SyncAll(ctx context.Context) (int, error) {
	ops, err := e.log.OpsSince(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("read history: %w", err)
	}
	for i := range ops {
		ops[i].OpID = e.opID()
		if err := e.disp.Enqueue(ctx, ops[i]); err != nil {
			return i, fmt.Errorf("enqueue replay op: %w", err)
		}
	}
	if len(ops) > 0 {
		e.logger.Info("republished history", "ops", len(ops))
	}
	return len(ops), nil
}

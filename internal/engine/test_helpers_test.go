package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/driftdb/driftdb/internal/oplog"
	"github.com/driftdb/driftdb/internal/registry"
	"github.com/driftdb/driftdb/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine builds an engine over a fresh replica database with a
// registered tasks table.
func newTestEngine(t *testing.T, tr transport.Transport, nodeID string, opts ...Option) *Engine {
	t.Helper()

	path := filepath.Join(t.TempDir(), nodeID+".db")
	log, err := oplog.Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	_, err = log.DB().Exec(`CREATE TABLE tasks (id TEXT PRIMARY KEY, title TEXT, done INTEGER DEFAULT 0)`)
	if err != nil {
		t.Fatalf("create tasks table: %v", err)
	}

	reg := registry.New()
	reg.Register(registry.TableMeta{
		Name:       "tasks",
		PrimaryKey: "id",
		Columns:    []string{"id", "title", "done"},
	})

	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	return New(log, reg, tr, nodeID, opts...)
}

// startEngine starts e and registers a cleanup that closes it.
func startEngine(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5e9)
		defer cancel()
		e.Close(ctx)
	})
}

// taskTitle reads a task's title; ok is false when the row is absent.
func taskTitle(t *testing.T, e *Engine, id string) (string, bool) {
	t.Helper()
	var title string
	err := e.Log().DB().QueryRow(`SELECT title FROM tasks WHERE id = ?`, id).Scan(&title)
	if err != nil {
		return "", false
	}
	return title, true
}

// logCount returns the number of history entries in e's log.
func logCount(t *testing.T, e *Engine) int {
	t.Helper()
	var n int
	if err := e.Log().DB().QueryRow(`SELECT COUNT(*) FROM _driftdb_log`).Scan(&n); err != nil {
		t.Fatalf("count log: %v", err)
	}
	return n
}

// captureTransport records broadcast frames and can be made to fail.
type captureTransport struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (c *captureTransport) Broadcast(ctx context.Context, topic string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.frames = append(c.frames, buf)
	return nil
}

func (c *captureTransport) Subscribe(topic string) (<-chan []byte, func(), error) {
	ch := make(chan []byte)
	return ch, func() {}, nil
}

func (c *captureTransport) Close() error { return nil }

func (c *captureTransport) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *captureTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// slowTransport delays every broadcast so operations pile up in the
// dispatch queue.
type slowTransport struct {
	captureTransport
	delay time.Duration
}

func (s *slowTransport) Broadcast(ctx context.Context, topic string, data []byte) error {
	time.Sleep(s.delay)
	return s.captureTransport.Broadcast(ctx, topic, data)
}

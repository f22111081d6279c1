package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"log/slog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// envelope is the websocket wire frame: a topic plus the opaque payload.
type envelope struct {
	Topic string `msgpack:"t"`
	Data  []byte `msgpack:"d"`
}

// Hub is a websocket rendezvous point: every frame received from one
// connected peer is forwarded to all other connected peers. The hub does
// not inspect payloads and keeps no history; it is a dumb broadcast
// relay, which is all the replication core asks of a transport.
type Hub struct {
	mu       sync.RWMutex
	conns    map[*hubConn]struct{}
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[*hubConn]struct{}),
		logger: logger.With("component", "ws-hub"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type hubConn struct {
	mu sync.Mutex // prevents concurrent writes to the websocket
	c  *websocket.Conn
}

func (hc *hubConn) write(messageType int, data []byte) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.c.SetWriteDeadline(time.Now().Add(writeWait))
	return hc.c.WriteMessage(messageType, data)
}

// ServeHTTP upgrades the request and pumps frames until the peer leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	hc := &hubConn{c: conn}

	h.mu.Lock()
	h.conns[hc] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("peer connected", "remote", conn.RemoteAddr().String())

	defer func() {
		h.mu.Lock()
		delete(h.conns, hc)
		h.mu.Unlock()
		conn.Close()
		h.logger.Debug("peer disconnected", "remote", conn.RemoteAddr().String())
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return hc.write(websocket.PongMessage, []byte(appData))
	})

	for {
		msgType, buf, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("unexpected websocket closure", "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		h.fanOut(hc, buf)
	}
}

func (h *Hub) fanOut(from *hubConn, buf []byte) {
	h.mu.RLock()
	conns := make([]*hubConn, 0, len(h.conns))
	for hc := range h.conns {
		if hc != from {
			conns = append(conns, hc)
		}
	}
	h.mu.RUnlock()

	for _, hc := range conns {
		if err := hc.write(websocket.BinaryMessage, buf); err != nil {
			h.logger.Debug("forward failed", "error", err)
		}
	}
}

// WS is the peer-side Transport: a single websocket connection to a Hub.
type WS struct {
	conn   *hubConn
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[string][]*busSub
	closed bool
	done   chan struct{}
}

// DialWS connects to a hub at url (ws:// or wss://).
func DialWS(ctx context.Context, url string, logger *slog.Logger) (*WS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub %s: %w", url, err)
	}
	w := &WS{
		conn:   &hubConn{c: conn},
		logger: logger.With("component", "ws-transport"),
		subs:   make(map[string][]*busSub),
		done:   make(chan struct{}),
	}
	go w.readPump()
	go w.pingLoop()
	return w, nil
}

// Broadcast publishes data to all peers connected to the hub.
func (w *WS) Broadcast(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return errors.New("websocket transport closed")
	}
	frame, err := msgpack.Marshal(envelope{Topic: topic, Data: data})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := w.conn.write(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}
	return nil
}

// Subscribe yields payloads published on topic by other peers.
func (w *WS) Subscribe(topic string) (<-chan []byte, func(), error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, nil, errors.New("websocket transport closed")
	}
	sub := &busSub{ch: make(chan []byte, 64)}
	w.subs[topic] = append(w.subs[topic], sub)

	cancel := func() {
		w.mu.Lock()
		subs := w.subs[topic]
		for i, s := range subs {
			if s == sub {
				w.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		w.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel, nil
}

// Close shuts the connection and cancels subscriptions.
func (w *WS) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	var all []*busSub
	for topic, subs := range w.subs {
		all = append(all, subs...)
		delete(w.subs, topic)
	}
	w.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}

	w.conn.write(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return w.conn.c.Close()
}

func (w *WS) readPump() {
	w.conn.c.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.c.SetPongHandler(func(string) error {
		return w.conn.c.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		msgType, buf, err := w.conn.c.ReadMessage()
		if err != nil {
			w.mu.Lock()
			closed := w.closed
			w.mu.Unlock()
			if !closed {
				w.logger.Debug("read pump stopped", "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		var env envelope
		if err := msgpack.Unmarshal(buf, &env); err != nil {
			w.logger.Debug("dropping malformed envelope", "error", err)
			continue
		}
		w.dispatch(env)
	}
}

func (w *WS) dispatch(env envelope) {
	w.mu.Lock()
	subs := make([]*busSub, len(w.subs[env.Topic]))
	copy(subs, w.subs[env.Topic])
	w.mu.Unlock()

	for _, sub := range subs {
		// Slow subscribers drop rather than stall the read pump.
		sub.send(env.Data)
	}
}

func (w *WS) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if err := w.conn.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package transport

import (
	"context"
	"errors"
	"sync"
)

// Bus is an in-process message bus connecting Node transports. Used by
// tests and single-process demos; delivery is asynchronous per
// subscriber, so ordering between publishers is not guaranteed — the
// same contract real transports provide.
type Bus struct {
	mu     sync.Mutex
	nodes  []*busNode
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Node attaches a new peer to the bus.
func (b *Bus) Node() Transport {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := &busNode{bus: b, subs: make(map[string][]*busSub)}
	b.nodes = append(b.nodes, n)
	return n
}

// Close detaches all peers.
func (b *Bus) Close() {
	b.mu.Lock()
	nodes := b.nodes
	b.nodes = nil
	b.closed = true
	b.mu.Unlock()
	for _, n := range nodes {
		n.Close()
	}
}

func (b *Bus) deliver(from *busNode, topic string, data []byte) {
	b.mu.Lock()
	nodes := make([]*busNode, len(b.nodes))
	copy(nodes, b.nodes)
	b.mu.Unlock()

	for _, n := range nodes {
		if n == from {
			continue
		}
		n.receive(topic, data)
	}
}

type busNode struct {
	bus    *Bus
	mu     sync.Mutex
	subs   map[string][]*busSub
	closed bool
}

// busSub owns its channel's lifecycle: send and close serialize on the
// sub's own mutex, so a cancel racing a delivery can never close the
// channel out from under a send. Shared with the websocket transport.
type busSub struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

// send offers data to the subscriber. A full buffer drops the frame;
// the transports mirror a lossy network on purpose.
func (s *busSub) send(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- data:
	default:
	}
}

func (s *busSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func (n *busNode) Broadcast(ctx context.Context, topic string, data []byte) error {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return errors.New("bus transport closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// Copy so publishers reusing buffers cannot corrupt deliveries.
	buf := make([]byte, len(data))
	copy(buf, data)
	n.bus.deliver(n, topic, buf)
	return nil
}

func (n *busNode) Subscribe(topic string) (<-chan []byte, func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, nil, errors.New("bus transport closed")
	}
	sub := &busSub{ch: make(chan []byte, 64)}
	n.subs[topic] = append(n.subs[topic], sub)

	cancel := func() {
		n.mu.Lock()
		subs := n.subs[topic]
		for i, s := range subs {
			if s == sub {
				n.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		n.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel, nil
}

func (n *busNode) receive(topic string, data []byte) {
	n.mu.Lock()
	subs := make([]*busSub, len(n.subs[topic]))
	copy(subs, n.subs[topic])
	n.mu.Unlock()

	for _, sub := range subs {
		sub.send(data)
	}
}

func (n *busNode) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	var all []*busSub
	for topic, subs := range n.subs {
		all = append(all, subs...)
		delete(n.subs, topic)
	}
	n.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}
	return nil
}

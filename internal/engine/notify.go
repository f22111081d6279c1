package engine

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/channels"

	"github.com/driftdb/driftdb/internal/op"
)

// Notifier fans change notifications out to observers.
//
// Publish never blocks the write path: notifications land in an
// unbounded buffer drained by a background pusher, and a subscriber that
// stops reading loses notifications rather than stalling everyone else.
// Notifications are ephemeral by contract, so loss is acceptable;
// Dropped() counts it.
type Notifier struct {
	mu     sync.Mutex
	subs   map[*notifySub]struct{}
	queue  *channels.InfiniteChannel
	closed bool
	done   chan struct{}

	dropped atomic.Uint64
}

// notifySub owns its channel's lifecycle: send and close serialize on
// the sub's own mutex, so a cancel racing the pusher can never close the
// channel out from under a send.
type notifySub struct {
	mu     sync.Mutex
	ch     chan op.ChangeNotification
	closed bool
}

// send offers c to the subscriber. Reports whether the notification was
// dropped because the buffer was full; cancelled subscribers don't count.
func (s *notifySub) send(c op.ChangeNotification) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- c:
		return false
	default:
		return true
	}
}

func (s *notifySub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// NewNotifier creates a Notifier and starts its pusher.
func NewNotifier() *Notifier {
	n := &Notifier{
		subs:  make(map[*notifySub]struct{}),
		queue: channels.NewInfiniteChannel(),
		done:  make(chan struct{}),
	}
	go n.push()
	return n
}

// Publish queues a notification for delivery. Never blocks.
func (n *Notifier) Publish(c op.ChangeNotification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.queue.In() <- c
}

// Subscribe registers an observer. The cancel function unregisters it
// and closes the channel.
func (n *Notifier) Subscribe() (<-chan op.ChangeNotification, func()) {
	sub := &notifySub{ch: make(chan op.ChangeNotification, 64)}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	n.subs[sub] = struct{}{}
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		delete(n.subs, sub)
		n.mu.Unlock()
		sub.close()
	}
	return sub.ch, cancel
}

// Dropped returns the number of notifications discarded because a
// subscriber's buffer was full.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}

// Close stops the pusher and closes all subscriber channels. Buffered
// notifications are delivered before close.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()

	n.queue.Close()
	<-n.done

	n.mu.Lock()
	defer n.mu.Unlock()
	for sub := range n.subs {
		delete(n.subs, sub)
		sub.close()
	}
}

func (n *Notifier) push() {
	defer close(n.done)
	for item := range n.queue.Out() {
		c, ok := item.(op.ChangeNotification)
		if !ok {
			continue
		}
		n.mu.Lock()
		subs := make([]*notifySub, 0, len(n.subs))
		for sub := range n.subs {
			subs = append(subs, sub)
		}
		n.mu.Unlock()

		for _, sub := range subs {
			if sub.send(c) {
				n.dropped.Add(1)
			}
		}
	}
}

// Package hlc provides the per-node hybrid logical clock and the
// persistent node identity used to stamp replicated operations.
//
// A hybrid logical clock pairs a wall-clock reading with a logical
// counter. When the wall clock advances between stamps the counter resets
// to zero; when it stalls or regresses the counter increments instead.
// Successive stamps from one node are therefore strictly increasing under
// (physical, logical) lexicographic order even across clock stutter,
// without requiring synchronized clocks between nodes.
package hlc

import (
	"sync"
	"time"
)

// Timestamp is one clock reading. Ordered lexicographically by
// (Physical, Logical).
type Timestamp struct {
	// Physical is nanoseconds since the unix epoch.
	Physical uint64
	// Logical disambiguates stamps taken within one wall-clock tick.
	Logical uint32
}

// After reports whether t orders strictly after other.
func (t Timestamp) After(other Timestamp) bool {
	if t.Physical != other.Physical {
		return t.Physical > other.Physical
	}
	return t.Logical > other.Logical
}

// Clock issues strictly increasing Timestamps. Safe for concurrent use.
type Clock struct {
	mu       sync.Mutex
	physical uint64
	logical  uint32
	wall     func() uint64
}

// New creates a Clock backed by the system wall clock.
func New() *Clock {
	return &Clock{wall: func() uint64 { return uint64(time.Now().UnixNano()) }}
}

// NewWithSource creates a Clock reading physical time from wall.
// Tests inject a controllable source to exercise stutter and regression.
func NewWithSource(wall func() uint64) *Clock {
	return &Clock{wall: wall}
}

// Now returns the next Timestamp. Each call atomically reads the wall
// clock: if it moved strictly forward, the counter resets; otherwise the
// stored physical time is kept and the counter increments. Never fails
// and never blocks beyond the internal mutex.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.wall()
	if now > c.physical {
		c.physical = now
		c.logical = 0
	} else {
		c.logical++
	}
	return Timestamp{Physical: c.physical, Logical: c.logical}
}

// Observe folds a remote timestamp into the clock so that stamps issued
// after receiving a remote operation order after it. Standard HLC receive
// rule; keeps causality across message exchange.
func (c *Clock) Observe(remote Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.wall()
	switch {
	case now > c.physical && now > remote.Physical:
		c.physical = now
		c.logical = 0
	case remote.Physical > c.physical:
		c.physical = remote.Physical
		c.logical = remote.Logical + 1
	case c.physical > remote.Physical:
		c.logical++
	default:
		if remote.Logical > c.logical {
			c.logical = remote.Logical
		}
		c.logical++
	}
}

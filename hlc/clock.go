// Package hlc stamps journaled transactions with hybrid logical clock
// timestamps: wall-clock milliseconds plus a logical counter, so stamps from
// one node are strictly increasing even when the system clock steps back.
package hlc

import (
	"sync"
	"time"
)

const (
	// LogicalBits is the number of bits reserved for the logical counter in IDs
	LogicalBits = 16
	// LogicalMask masks the logical counter
	LogicalMask = (1 << LogicalBits) - 1
	// NodeIDBits is the number of bits reserved for the node in IDs
	NodeIDBits = 6
	// NodeIDMask masks the node id
	NodeIDMask = (1 << NodeIDBits) - 1

	shiftBits = NodeIDBits + LogicalBits
)

// Timestamp is a point on one node's hybrid clock
type Timestamp struct {
	WallMS  int64  // Physical milliseconds since the epoch, never decreasing
	Logical uint16 // Orders stamps within one millisecond
	NodeID  uint64
}

// Clock issues strictly increasing timestamps. Safe for concurrent use.
type Clock struct {
	nodeID  uint64
	now     func() time.Time
	mu      sync.Mutex
	wallMS  int64
	logical uint32
}

// NewClock creates a clock for nodeID
func NewClock(nodeID uint64) *Clock {
	return newClock(nodeID, time.Now)
}

func newClock(nodeID uint64, now func() time.Time) *Clock {
	return &Clock{nodeID: nodeID, now: now}
}

// Now returns a timestamp greater than every previous one of this clock
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	physical := c.now().UnixMilli()
	switch {
	case physical > c.wallMS:
		c.wallMS = physical
		c.logical = 0
	case c.logical >= LogicalMask:
		// Counter exhausted: borrow the next millisecond
		c.wallMS++
		c.logical = 0
	default:
		c.logical++
	}

	return Timestamp{
		WallMS:  c.wallMS,
		Logical: uint16(c.logical),
		NodeID:  c.nodeID,
	}
}

// Compare returns -1, 0 or 1 as a is before, equal to or after b.
// The node id breaks ties between nodes.
func Compare(a, b Timestamp) int {
	switch {
	case a.WallMS != b.WallMS:
		return cmp(a.WallMS, b.WallMS)
	case a.Logical != b.Logical:
		return cmp(a.Logical, b.Logical)
	default:
		return cmp(a.NodeID, b.NodeID)
	}
}

func cmp[T int64 | uint16 | uint64](a, b T) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Time returns the physical component
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(t.WallMS)
}

// ID packs the timestamp into one 64-bit identifier unique across up to 64 nodes.
// Format: (wall_ms << 22) | (node_id << 16) | logical
func (t Timestamp) ID() uint64 {
	return uint64(t.WallMS)<<shiftBits | (t.NodeID&NodeIDMask)<<LogicalBits | uint64(t.Logical)
}

func (t Timestamp) String() string {
	return t.Time().UTC().Format(time.RFC3339Nano)
}

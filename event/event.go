// Package event defines indexed events: records identified by (symbol, source, index)
// that carry a flag set describing their place in a snapshot or transaction.
package event

import (
	"fmt"
	"strings"
)

// Flags is the transport-level bit set attached to an indexed event.
// Flags never reach observers: events leaving the model always have Flags == 0.
type Flags int32

const (
	// TxPending marks that more events of the same logical change are still arriving
	TxPending Flags = 0x01
	// RemoveEvent marks that the record at this index is deleted
	RemoveEvent Flags = 0x02
	// SnapshotBegin starts a new snapshot for the source
	SnapshotBegin Flags = 0x04
	// SnapshotEnd ends the snapshot for the source
	SnapshotEnd Flags = 0x08
	// SnapshotSnip ends a snapshot that was truncated upstream
	SnapshotSnip Flags = 0x10
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{TxPending, "TX_PENDING"},
	{RemoveEvent, "REMOVE_EVENT"},
	{SnapshotBegin, "SNAPSHOT_BEGIN"},
	{SnapshotEnd, "SNAPSHOT_END"},
	{SnapshotSnip, "SNAPSHOT_SNIP"},
}

// Has reports whether any bit of mask is set.
func (f Flags) Has(mask Flags) bool {
	return f&mask != 0
}

func (f Flags) String() string {
	if f == 0 {
		return "0"
	}
	var parts []string
	rest := f
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
			rest &^= fn.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", int32(rest)))
	}
	return strings.Join(parts, "|")
}

// Event is a single indexed record. Index orders records within a source.
type Event[P any] struct {
	Symbol   string `msgpack:"sym" json:"symbol"`
	SourceID int    `msgpack:"src" json:"source"`
	Index    int64  `msgpack:"idx" json:"index"`
	Flags    Flags  `msgpack:"flags" json:"flags,omitempty"`
	Payload  P      `msgpack:"p" json:"payload"`
}

// IsRemove reports whether the event deletes the record at its index.
func (e Event[P]) IsRemove() bool {
	return e.Flags.Has(RemoveEvent)
}

// WithoutFlags returns a copy of the event with all flags cleared.
func (e Event[P]) WithoutFlags() Event[P] {
	e.Flags = 0
	return e
}

func (e Event[P]) String() string {
	return fmt.Sprintf("%s@%d#%d[%s]", e.Symbol, e.SourceID, e.Index, e.Flags)
}

package model

import "github.com/devexperts/QD-sub016/event"

// Transaction is an all-or-nothing change for one source of one symbol:
// either a snapshot fully replacing the source, or an ordered update batch.
// Events never carry flags.
type Transaction[P any] struct {
	SourceID int
	Snapshot bool
	Events   []event.Event[P]

	removed []bool
}

// Len returns the number of events in the transaction
func (tx Transaction[P]) Len() int {
	return len(tx.Events)
}

// IsRemoval reports whether event i of an update deletes its index.
// Snapshots never contain removals.
func (tx Transaction[P]) IsRemoval(i int) bool {
	return i >= 0 && i < len(tx.removed) && tx.removed[i]
}

// Kind returns "snapshot" or "update"
func (tx Transaction[P]) Kind() string {
	return kindOf(tx.Snapshot)
}

func kindOf(snapshot bool) string {
	if snapshot {
		return "snapshot"
	}
	return "update"
}

// completed is a finished transaction as produced by the trackers.
// Update events still carry their wire flags so the list can honor removals.
type completed[P any] struct {
	sourceID int
	snapshot bool
	events   []event.Event[P]
}

func (c completed[P]) kind() string {
	return kindOf(c.snapshot)
}

func (c completed[P]) transaction() Transaction[P] {
	tx := Transaction[P]{
		SourceID: c.sourceID,
		Snapshot: c.snapshot,
		Events:   make([]event.Event[P], len(c.events)),
	}
	for i, e := range c.events {
		if !c.snapshot && e.IsRemove() {
			if tx.removed == nil {
				tx.removed = make([]bool, len(c.events))
			}
			tx.removed[i] = true
		}
		tx.Events[i] = e.WithoutFlags()
	}
	return tx
}

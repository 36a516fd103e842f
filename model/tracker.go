package model

import "github.com/devexperts/QD-sub016/event"

type outcome int

const (
	buffered outcome = iota
	completedSnapshot
	completedUpdate
)

// DefaultSnapshotEnd treats both SNAPSHOT_END and SNAPSHOT_SNIP as the end of a snapshot
func DefaultSnapshotEnd(flags event.Flags) bool {
	return flags.Has(event.SnapshotEnd | event.SnapshotSnip)
}

// sourceTracker classifies the event stream of one source into buffered
// events and completed snapshots or updates. Not safe for concurrent use.
type sourceTracker[P any] struct {
	sourceID         int
	partialSnapshot  bool
	completeSnapshot bool
	txPending        bool
	pending          []event.Event[P]
	isSnapshotEnd    func(event.Flags) bool
}

func newSourceTracker[P any](sourceID int, isSnapshotEnd func(event.Flags) bool) *sourceTracker[P] {
	if isSnapshotEnd == nil {
		isSnapshotEnd = DefaultSnapshotEnd
	}
	return &sourceTracker[P]{sourceID: sourceID, isSnapshotEnd: isSnapshotEnd}
}

// observe feeds one event. On completion the returned slice is owned by the caller.
func (t *sourceTracker[P]) observe(e event.Event[P]) (outcome, []event.Event[P]) {
	if e.Flags.Has(event.SnapshotBegin) {
		t.partialSnapshot = true
		t.completeSnapshot = false
		t.pending = t.pending[:0]
	}
	t.txPending = e.Flags.Has(event.TxPending)
	// END before any BEGIN is ignored here
	if t.partialSnapshot && t.isSnapshotEnd(e.Flags) {
		t.partialSnapshot = false
		t.completeSnapshot = true
	}
	t.pending = append(t.pending, e)

	if t.partialSnapshot || t.txPending {
		return buffered, nil
	}

	events := t.pending
	t.pending = nil
	if t.completeSnapshot {
		t.completeSnapshot = false
		return completedSnapshot, Conflate(events)
	}
	return completedUpdate, events
}

func (t *sourceTracker[P]) pendingCount() int {
	return len(t.pending)
}

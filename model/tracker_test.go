package model

import (
	"testing"

	"github.com/devexperts/QD-sub016/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerPlainUpdate(t *testing.T) {
	tr := newSourceTracker[quote](1, nil)

	kind, events := tr.observe(ev(1, 10, 0, 1))
	assert.Equal(t, completedUpdate, kind)
	assert.Equal(t, []int64{10}, indices(events))
	assert.Zero(t, tr.pendingCount())
}

func TestTrackerTxPending(t *testing.T) {
	tr := newSourceTracker[quote](1, nil)

	kind, _ := tr.observe(ev(1, 7, event.TxPending, 1))
	assert.Equal(t, buffered, kind)
	assert.Equal(t, 1, tr.pendingCount())

	kind, events := tr.observe(ev(1, 9, 0, 2))
	assert.Equal(t, completedUpdate, kind)
	assert.Equal(t, []int64{7, 9}, indices(events))
	// update events keep wire flags for the caller
	assert.Equal(t, event.TxPending, events[0].Flags)
}

func TestTrackerSnapshot(t *testing.T) {
	tr := newSourceTracker[quote](1, nil)

	kind, _ := tr.observe(ev(1, 1, event.SnapshotBegin, 1))
	assert.Equal(t, buffered, kind)
	kind, _ = tr.observe(ev(1, 2, 0, 2))
	assert.Equal(t, buffered, kind)

	kind, events := tr.observe(ev(1, 3, event.SnapshotEnd, 3))
	require.Equal(t, completedSnapshot, kind)
	assert.Equal(t, []int64{1, 2, 3}, indices(events))
	for _, e := range events {
		assert.Zero(t, e.Flags)
	}
	assert.False(t, tr.completeSnapshot)
}

func TestTrackerSnipEndsSnapshot(t *testing.T) {
	tr := newSourceTracker[quote](1, nil)
	tr.observe(ev(1, 1, event.SnapshotBegin, 1))

	kind, _ := tr.observe(ev(1, 2, event.SnapshotSnip, 2))
	assert.Equal(t, completedSnapshot, kind)
}

func TestTrackerStrayEndIgnored(t *testing.T) {
	tr := newSourceTracker[quote](1, nil)

	kind, events := tr.observe(ev(1, 1, event.SnapshotEnd, 0))
	assert.Equal(t, completedUpdate, kind, "END without BEGIN is a plain event")
	assert.Len(t, events, 1)
}

func TestTrackerBeginDiscardsUnfinishedSnapshot(t *testing.T) {
	tr := newSourceTracker[quote](1, nil)
	tr.observe(ev(1, 1, event.SnapshotBegin, 1))
	tr.observe(ev(1, 2, 0, 2))

	tr.observe(ev(1, 5, event.SnapshotBegin, 5))
	kind, events := tr.observe(ev(1, 6, event.SnapshotEnd, 6))

	require.Equal(t, completedSnapshot, kind)
	assert.Equal(t, []int64{5, 6}, indices(events))
}

func TestTrackerSnapshotWaitsForTx(t *testing.T) {
	tr := newSourceTracker[quote](1, nil)
	tr.observe(ev(1, 1, event.SnapshotBegin, 1))

	kind, _ := tr.observe(ev(1, 2, event.SnapshotEnd|event.TxPending, 2))
	assert.Equal(t, buffered, kind, "snapshot end inside a pending transaction waits")

	kind, events := tr.observe(ev(1, 3, 0, 3))
	require.Equal(t, completedSnapshot, kind)
	assert.Equal(t, []int64{1, 2, 3}, indices(events))
}

func TestTrackerCustomSnapshotEnd(t *testing.T) {
	tr := newSourceTracker[quote](1, func(f event.Flags) bool { return f.Has(event.SnapshotEnd) })
	tr.observe(ev(1, 1, event.SnapshotBegin, 1))

	kind, _ := tr.observe(ev(1, 2, event.SnapshotSnip, 2))
	assert.Equal(t, buffered, kind)

	kind, _ = tr.observe(ev(1, 3, event.SnapshotEnd, 3))
	assert.Equal(t, completedSnapshot, kind)
}
